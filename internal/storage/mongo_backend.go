package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig - параметры подключения к MongoDB
type MongoConfig struct {
	URI        string // mongodb://localhost:27017
	Database   string
	Collection string
}

// MongoBackend хранит каждый документ отдельной записью коллекции, ключ - имя документа
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mongoDocument - запись коллекции
type mongoDocument struct {
	Name      string    `bson:"_id"`
	Body      []byte    `bson:"body"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoBackend подключается к MongoDB и проверяет соединение
func NewMongoBackend(ctx context.Context, cfg MongoConfig) (*MongoBackend, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "regionkeeper"
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB не отвечает: %w", err)
	}

	return &MongoBackend{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (b *MongoBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var doc mongoDocument
	err := b.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", name, err)
	}
	return doc.Body, nil
}

func (b *MongoBackend) Store(ctx context.Context, name string, data []byte) error {
	doc := mongoDocument{Name: name, Body: data, UpdatedAt: time.Now().UTC()}
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения документа %s: %w", name, err)
	}
	return nil
}

func (b *MongoBackend) Delete(ctx context.Context, name string) error {
	if _, err := b.collection.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("ошибка удаления документа %s: %w", name, err)
	}
	return nil
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
