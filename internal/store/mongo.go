package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/xerrors"

	"raffle/internal/models"
)

// roundDocument is the stored shape of a round; addresses and ids are kept as strings.
type roundDocument struct {
	ID           string    `bson:"_id"`
	Round        uint64    `bson:"round"`
	Winner       string    `bson:"winner"`
	Prize        string    `bson:"prize"`
	RequestID    uint64    `bson:"requestId"`
	RandomWord   string    `bson:"randomWord"`
	WinnerIndex  int       `bson:"winnerIndex"`
	Participants int       `bson:"participants"`
	ClosedAt     time.Time `bson:"closedAt"`
}

func toDocument(r *models.RoundResult) roundDocument {
	return roundDocument{
		ID:           r.ID.String(),
		Round:        r.Round,
		Winner:       r.Winner.Hex(),
		Prize:        r.Prize,
		RequestID:    uint64(r.RequestID),
		RandomWord:   r.RandomWord,
		WinnerIndex:  r.WinnerIndex,
		Participants: r.Participants,
		ClosedAt:     r.ClosedAt,
	}
}

func (d roundDocument) toResult() (*models.RoundResult, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, xerrors.Errorf("round %d id %q: %w", d.Round, d.ID, err)
	}
	return &models.RoundResult{
		ID:           id,
		Round:        d.Round,
		Winner:       common.HexToAddress(d.Winner),
		Prize:        d.Prize,
		RequestID:    models.RequestID(d.RequestID),
		RandomWord:   d.RandomWord,
		WinnerIndex:  d.WinnerIndex,
		Participants: d.Participants,
		ClosedAt:     d.ClosedAt,
	}, nil
}

// MongoStore keeps rounds in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo connects to uri and uses the rounds collection of database.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, xerrors.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, xerrors.Errorf("ping mongo: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection("rounds"),
	}, nil
}

// SaveRound upserts result keyed by round number.
func (s *MongoStore) SaveRound(ctx context.Context, result *models.RoundResult) error {
	doc := toDocument(result)
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"round": doc.Round}, doc, opts)
	if err != nil {
		return xerrors.Errorf("save round %d: %w", doc.Round, err)
	}
	return nil
}

// ListRounds returns rounds sorted by round number descending.
func (s *MongoStore) ListRounds(ctx context.Context, limit int) ([]*models.RoundResult, error) {
	opts := options.Find().SetSort(bson.M{"round": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, xerrors.Errorf("find rounds: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []roundDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, xerrors.Errorf("decode rounds: %w", err)
	}
	out := make([]*models.RoundResult, 0, len(docs))
	for _, d := range docs {
		r, err := d.toResult()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
