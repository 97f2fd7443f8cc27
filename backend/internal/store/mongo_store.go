package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"banglaCollab/backend/internal/collab"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDocument 与 documents 集合的字段命名保持一致（camelCase）
type mongoDocument struct {
	ID              any       `bson:"_id"`
	Title           string    `bson:"title"`
	Caption         string    `bson:"caption"`
	BanglishContent string    `bson:"banglishContent"`
	BanglaContent   string    `bson:"banglaContent"`
	Tags            []string  `bson:"tags"`
	Status          string    `bson:"status"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

// 字段名 -> bson 键
var fieldKeys = map[string]string{
	collab.FieldBanglish: "banglishContent",
	collab.FieldBangla:   "banglaContent",
	collab.FieldTitle:    "title",
	collab.FieldCaption:  "caption",
	collab.FieldStatus:   "status",
}

// MongoDocumentStore：兼容已有 MongoDB documents 集合的 collab.DocumentStore
type MongoDocumentStore struct {
	coll *mongo.Collection
}

var _ collab.DocumentStore = (*MongoDocumentStore)(nil)

func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func NewMongoDocumentStore(client *mongo.Client, database, collection string) *MongoDocumentStore {
	return &MongoDocumentStore{coll: client.Database(database).Collection(collection)}
}

// _id 可以是 ObjectID（hex）也可以是普通字符串
func mongoID(docID string) any {
	if oid, err := primitive.ObjectIDFromHex(docID); err == nil {
		return oid
	}
	return docID
}

// tags 在集合里是数组，没有标签时写 []，不能写成 null
func mongoTags(v string) []string {
	if tags := collab.SplitTags(v); tags != nil {
		return tags
	}
	return []string{}
}

func (s *MongoDocumentStore) Load(ctx context.Context, docID string) (map[string]string, error) {
	var doc mongoDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": mongoID(docID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	status := doc.Status
	if status == "" {
		status = collab.StatusDraft
	}
	return map[string]string{
		collab.FieldBanglish: doc.BanglishContent,
		collab.FieldBangla:   doc.BanglaContent,
		collab.FieldTitle:    doc.Title,
		collab.FieldCaption:  doc.Caption,
		collab.FieldTags:     collab.JoinTags(doc.Tags),
		collab.FieldStatus:   status,
	}, nil
}

func (s *MongoDocumentStore) Save(ctx context.Context, docID string, fields map[string]string) error {
	set := bson.M{"updatedAt": time.Now()}
	for name, v := range fields {
		if name == collab.FieldTags {
			set["tags"] = mongoTags(v)
			continue
		}
		if key, ok := fieldKeys[name]; ok {
			set[key] = v
		}
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": mongoID(docID)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentMissing, docID)
	}
	return nil
}

// Insert 新建一个文档（迁移 / 测试用），返回 _id 的字符串形式
func (s *MongoDocumentStore) Insert(ctx context.Context, fields map[string]string) (string, error) {
	oid := primitive.NewObjectID()
	doc := mongoDocument{
		ID:              oid,
		Title:           fields[collab.FieldTitle],
		Caption:         fields[collab.FieldCaption],
		BanglishContent: fields[collab.FieldBanglish],
		BanglaContent:   fields[collab.FieldBangla],
		Tags:            mongoTags(fields[collab.FieldTags]),
		Status:          strings.TrimSpace(fields[collab.FieldStatus]),
		UpdatedAt:       time.Now(),
	}
	if doc.Status == "" {
		doc.Status = collab.StatusDraft
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return oid.Hex(), nil
}
