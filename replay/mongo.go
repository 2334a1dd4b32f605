package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

const (
	usedTokensCollection      = "replay_used_tokens"
	revokedSessionsCollection = "replay_revoked_sessions"
)

type revokedSession struct {
	SessionID string    `bson:"_id"`
	Until     time.Time `bson:"until"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoLedger persists the replay ledger in MongoDB. TTL indexes on
// expires_at keep both collections pruned to live tokens.
type MongoLedger struct {
	client   *mongo.Client
	tokens   *mongo.Collection
	sessions *mongo.Collection
	now      func() time.Time
	log      zerolog.Logger
}

// NewMongoLedger connects to MongoDB, ensures the TTL indexes and returns
// the ledger. The connection is instrumented with otelmongo.
func NewMongoLedger(ctx context.Context, uri, dbName string, log zerolog.Logger) (*MongoLedger, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	l := &MongoLedger{
		client:   client,
		tokens:   db.Collection(usedTokensCollection),
		sessions: db.Collection(revokedSessionsCollection),
		now:      time.Now,
		log:      log,
	}
	if err := l.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *MongoLedger) ensureIndexes(ctx context.Context) error {
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	sessionIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}},
	}

	if _, err := l.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndex, sessionIndex}); err != nil {
		l.log.Warn().Err(err).Msg("creating indexes on used tokens collection")
		return fmt.Errorf("ensure token indexes: %w", err)
	}
	if _, err := l.sessions.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		l.log.Warn().Err(err).Msg("creating index on revoked sessions collection")
		return fmt.Errorf("ensure session index: %w", err)
	}
	return nil
}

// MarkUsed implements Ledger. The unique _id (the token hash) makes the
// insert the atomic claim.
func (l *MongoLedger) MarkUsed(ctx context.Context, entry Entry) error {
	if !entry.ExpiresAt.After(l.now()) {
		return nil
	}

	_, err := l.tokens.InsertOne(ctx, entry)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrReplayed
		}
		return fmt.Errorf("mark token used: %w", err)
	}
	return nil
}

// Seen implements Ledger.
func (l *MongoLedger) Seen(ctx context.Context, tokenHash string) (bool, error) {
	err := l.tokens.FindOne(ctx, bson.M{"_id": tokenHash}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("check token: %w", err)
	}
	return true, nil
}

// RevokeSession implements Ledger.
func (l *MongoLedger) RevokeSession(ctx context.Context, sessionID string, until time.Time) error {
	expires := until
	if !expires.After(l.now()) {
		expires = l.now().Add(time.Minute)
	}

	doc := revokedSession{SessionID: sessionID, Until: until, ExpiresAt: expires}
	_, err := l.sessions.ReplaceOne(ctx, bson.M{"_id": sessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	l.log.Info().Str("session_id", sessionID).Time("until", until).Msg("session revoked")
	return nil
}

// IsSessionRevoked implements Ledger.
func (l *MongoLedger) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	err := l.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return true, nil
}

// Close disconnects from MongoDB.
func (l *MongoLedger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.client.Disconnect(ctx)
}
