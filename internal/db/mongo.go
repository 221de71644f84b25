package db

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps rooms, drawings and chats in MongoDB. Room ids stay
// numeric through a counters collection so both backends share one wire format.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

type mongoDrawing struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    int64              `bson:"roomId"`
	ElementID string             `bson:"elementId"`
	Data      string             `bson:"elementData"`
	UserID    string             `bson:"userId"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type mongoChat struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Seq       int64              `bson:"seq"`
	RoomID    int64              `bson:"roomId"`
	Message   string             `bson:"message"`
	UserID    string             `bson:"userId"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	log.Printf("MongoDB store initialized (%s)", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.db.Collection("rooms").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.db.Collection("drawings").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "elementId", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.db.Collection("chats").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "seq", Value: -1}},
	})
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

// Room operations

func (s *MongoStore) GetOrCreateRoom(ctx context.Context, slug, adminID string) (*Room, error) {
	var room Room
	err := s.db.Collection("rooms").FindOne(ctx, bson.M{"slug": slug}).Decode(&room)
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	id, err := s.nextSeq(ctx, "rooms")
	if err != nil {
		return nil, err
	}
	room = Room{ID: id, Slug: slug, AdminID: adminID, CreatedAt: time.Now().UTC()}
	if _, err := s.db.Collection("rooms").InsertOne(ctx, room); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost a creation race on the slug
			err = s.db.Collection("rooms").FindOne(ctx, bson.M{"slug": slug}).Decode(&room)
			if err != nil {
				return nil, err
			}
			return &room, nil
		}
		return nil, err
	}
	return &room, nil
}

func (s *MongoStore) GetRoom(ctx context.Context, id int64) (*Room, error) {
	var room Room
	err := s.db.Collection("rooms").FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *MongoStore) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	cursor, err := s.db.Collection("rooms").Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit)).SetSkip(int64(offset)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rooms []Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Drawing operations

func (s *MongoStore) InsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error {
	_, err := s.db.Collection("drawings").InsertOne(ctx, mongoDrawing{
		RoomID:    roomID,
		ElementID: elementID,
		Data:      data,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func (s *MongoStore) UpsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error {
	_, err := s.db.Collection("drawings").UpdateMany(ctx,
		bson.M{"roomId": roomID, "elementId": elementID},
		bson.M{
			"$set":         bson.M{"elementData": data},
			"$setOnInsert": bson.M{"userId": userID, "createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) DeleteDrawing(ctx context.Context, roomID int64, elementID string) error {
	_, err := s.db.Collection("drawings").DeleteMany(ctx, bson.M{"roomId": roomID, "elementId": elementID})
	return err
}

func (s *MongoStore) ClearDrawings(ctx context.Context, roomID int64) error {
	_, err := s.db.Collection("drawings").DeleteMany(ctx, bson.M{"roomId": roomID})
	return err
}

// ReplaceDrawings is not atomic on a standalone server: a crash between the
// delete and the insert leaves the room empty.
func (s *MongoStore) ReplaceDrawings(ctx context.Context, roomID int64, userID string, elements []ElementData) error {
	if err := s.ClearDrawings(ctx, roomID); err != nil {
		return err
	}
	if len(elements) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, len(elements))
	for i, e := range elements {
		docs[i] = mongoDrawing{RoomID: roomID, ElementID: e.ElementID, Data: e.Data, UserID: userID, CreatedAt: now}
	}
	_, err := s.db.Collection("drawings").InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

func (s *MongoStore) ListDrawings(ctx context.Context, roomID int64) ([]Drawing, error) {
	cursor, err := s.db.Collection("drawings").Find(ctx, bson.M{"roomId": roomID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []mongoDrawing
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	drawings := make([]Drawing, len(docs))
	for i, d := range docs {
		drawings[i] = Drawing{
			RoomID:    d.RoomID,
			ElementID: d.ElementID,
			Data:      d.Data,
			UserID:    d.UserID,
			CreatedAt: d.CreatedAt,
		}
	}
	return drawings, nil
}

// Chat operations

func (s *MongoStore) SaveChat(ctx context.Context, roomID int64, userID, message string) error {
	seq, err := s.nextSeq(ctx, "chats")
	if err != nil {
		return err
	}
	_, err = s.db.Collection("chats").InsertOne(ctx, mongoChat{
		Seq:       seq,
		RoomID:    roomID,
		Message:   message,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func (s *MongoStore) ListChats(ctx context.Context, roomID int64, limit int) ([]Chat, error) {
	cursor, err := s.db.Collection("chats").Find(ctx, bson.M{"roomId": roomID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []mongoChat
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	chats := make([]Chat, len(docs))
	for i, c := range docs {
		chats[i] = Chat{ID: c.Seq, RoomID: c.RoomID, Message: c.Message, UserID: c.UserID, CreatedAt: c.CreatedAt}
	}
	return chats, nil
}

func (s *MongoStore) ChatRoomIDs(ctx context.Context) ([]int64, error) {
	values, err := s.db.Collection("chats").Distinct(ctx, "roomId", bson.M{})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		switch id := v.(type) {
		case int64:
			ids = append(ids, id)
		case int32:
			ids = append(ids, int64(id))
		}
	}
	return ids, nil
}

func (s *MongoStore) PruneChats(ctx context.Context, roomID int64, keep int) (int64, error) {
	chats := s.db.Collection("chats")

	var boundary mongoChat
	err := chats.FindOne(ctx, bson.M{"roomId": roomID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetSkip(int64(keep)),
	).Decode(&boundary)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res, err := chats.DeleteMany(ctx, bson.M{"roomId": roomID, "seq": bson.M{"$lte": boundary.Seq}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Stats

func (s *MongoStore) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, c := range []struct {
		name string
		dest *int
	}{
		{"rooms", &st.RoomCount},
		{"drawings", &st.DrawingCount},
		{"chats", &st.ChatCount},
	} {
		n, err := s.db.Collection(c.name).CountDocuments(ctx, bson.M{})
		if err != nil {
			return Stats{}, err
		}
		*c.dest = int(n)
	}
	return st, nil
}
