package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{collection: db.Collection("orders")}
}

func (m *MongoOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (m *MongoOrderRepository) SaveOrder(ctx context.Context, order *domain.Order) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": order.ID}, order, opts); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) SaveOrderIf(ctx context.Context, order *domain.Order, expected domain.InventoryStatus) error {
	filter := bson.M{"_id": order.ID, "inventory.status": expected}
	if expected == domain.InventoryNone {
		// a fresh order may carry no inventory state at all
		filter["inventory.status"] = bson.M{"$in": bson.A{domain.InventoryNone, "", nil}}
	}

	res, err := m.collection.ReplaceOne(ctx, filter, order)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	if res.MatchedCount == 0 {
		return missOrConflict(ctx, m.collection, order.ID, ErrOrderNotFound, ErrOrderConflict)
	}
	return nil
}

func (m *MongoOrderRepository) FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	filter := bson.M{
		"inventory.status":               domain.InventoryReserved,
		"inventory.reservationExpiresAt": bson.M{"$lte": now},
		"paymentStatus":                  bson.M{"$ne": domain.PaymentPaid},
		"status":                         bson.M{"$nin": domain.TerminalOrderStatuses},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "inventory.reservationExpiresAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode expired reservations: %w", err)
	}
	return orders, nil
}

func (m *MongoOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "inventory.status", Value: 1},
				{Key: "inventory.reservationExpiresAt", Value: 1},
			},
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

type MongoPurchaseOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoPurchaseOrderRepository(db *mongo.Database) *MongoPurchaseOrderRepository {
	return &MongoPurchaseOrderRepository{collection: db.Collection("purchase_orders")}
}

func (m *MongoPurchaseOrderRepository) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&po)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPurchaseOrderNotFound
		}
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}
	return &po, nil
}

func (m *MongoPurchaseOrderRepository) SavePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": po.ID}, po, opts); err != nil {
		return fmt.Errorf("failed to save purchase order: %w", err)
	}
	return nil
}

func (m *MongoPurchaseOrderRepository) SavePurchaseOrderIfPending(ctx context.Context, po *domain.PurchaseOrder) error {
	filter := bson.M{"_id": po.ID, "inventoryApplied": bson.M{"$ne": true}}

	res, err := m.collection.ReplaceOne(ctx, filter, po)
	if err != nil {
		return fmt.Errorf("failed to save purchase order: %w", err)
	}
	if res.MatchedCount == 0 {
		return missOrConflict(ctx, m.collection, po.ID, ErrPurchaseOrderNotFound, ErrPurchaseOrderConflict)
	}
	return nil
}

// missOrConflict tells a missing document apart from a failed precondition
func missOrConflict(ctx context.Context, c *mongo.Collection, id string, notFound, conflict error) error {
	n, err := c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check document %s: %w", id, err)
	}
	if n == 0 {
		return notFound
	}
	return conflict
}
