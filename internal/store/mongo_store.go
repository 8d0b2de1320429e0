package store

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

// ProductsCollection holds one document per product with its embedded stock records
const ProductsCollection = "products"

// MongoStore implements StockStore on a products collection.
// Every mutation is a single FindOneAndUpdate whose filter carries the guard.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a store backed by db.products
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(ProductsCollection)}
}

func (m *MongoStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product

	err := m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, domain.Internal("get product", err)
	}

	return &product, nil
}

func (m *MongoStore) SaveProduct(ctx context.Context, product *domain.Product) error {
	if product == nil || product.ID == "" {
		return domain.InvalidInput("product id is required")
	}
	product.UpdatedAt = time.Now().UTC()

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": product.ID}, product, opts); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (m *MongoStore) Apply(ctx context.Context, mut Mutation) (Applied, error) {
	filter, update, opts := mutationQuery(mut)

	var product domain.Product
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Applied{}, m.classifyMiss(ctx, mut)
		}
		return Applied{}, domain.Internal("apply stock mutation", err)
	}

	after, err := product.Record(mut.Target.VariantID)
	if err != nil {
		return Applied{}, domain.Internal("read updated record", err)
	}

	return Applied{Before: mut.Delta.Inverse().apply(after), After: after}, nil
}

// classifyMiss re-reads the product after a filter miss to explain why nothing matched
func (m *MongoStore) classifyMiss(ctx context.Context, mut Mutation) error {
	product, err := m.GetProduct(ctx, mut.Target.ProductID)
	if err != nil {
		return err
	}

	current, err := product.Record(mut.Target.VariantID)
	if err != nil {
		return err
	}

	return insufficient(mut, current)
}

// mutationQuery builds the guarded filter and the $inc update for a mutation
func mutationQuery(mut Mutation) (bson.M, bson.M, *options.FindOneAndUpdateOptions) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	now := time.Now().UTC()

	if mut.Target.VariantID == "" {
		filter := bson.M{
			"_id":  mut.Target.ProductID,
			"kind": bson.M{"$in": bson.A{domain.KindSimple, "", nil}},
		}
		if expr := guardExpr(mut.Guard, "$stock."); expr != nil {
			filter["$expr"] = expr
		}
		update := bson.M{
			"$inc": bson.M{
				"stock.stockQuantity":    mut.Delta.Stock,
				"stock.reservedQuantity": mut.Delta.Reserved,
			},
			"$set": bson.M{"updatedAt": now},
		}
		return filter, update, opts
	}

	match := bson.A{bson.M{"$eq": bson.A{"$$v.variantId", mut.Target.VariantID}}}
	if expr := guardExpr(mut.Guard, "$$v.stock."); expr != nil {
		match = append(match, expr)
	}

	filter := bson.M{
		"_id":                mut.Target.ProductID,
		"kind":               domain.KindVariants,
		"variants.variantId": mut.Target.VariantID,
		"$expr": bson.M{
			"$anyElementTrue": bson.A{
				bson.M{"$map": bson.M{
					"input": "$variants",
					"as":    "v",
					"in":    bson.M{"$and": match},
				}},
			},
		},
	}
	update := bson.M{
		"$inc": bson.M{
			"variants.$[v].stock.stockQuantity":    mut.Delta.Stock,
			"variants.$[v].stock.reservedQuantity": mut.Delta.Reserved,
		},
		"$set": bson.M{"updatedAt": now},
	}
	opts.SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"v.variantId": mut.Target.VariantID},
		},
	})
	return filter, update, opts
}

// guardExpr renders a guard as an aggregation expression over fields under prefix
func guardExpr(g Guard, prefix string) bson.M {
	switch g.Kind {
	case GuardAvailableAtLeast:
		return bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{prefix + "stockQuantity", prefix + "reservedQuantity"}},
			g.Quantity,
		}}
	case GuardReservedAtLeast:
		return bson.M{"$gte": bson.A{prefix + "reservedQuantity", g.Quantity}}
	default:
		return nil
	}
}

// CreateIndexes creates the indexes used by variant lookups
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "variants.variantId", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	return nil
}
