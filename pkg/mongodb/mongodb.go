package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client wraps a connected mongo.Client and the application database.
type Client struct {
	*mongo.Client
	DB     *mongo.Database
	logger *logger.Logger
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, cfg *config.MongoConfig, log *logger.Logger) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo connection URI is empty")
	}

	opts := options.Client().ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info().
		Str("uri", config.RedactURL(cfg.URI)).
		Str("database", cfg.Database).
		Msg("connected to MongoDB")

	return &Client{
		Client: client,
		DB:     client.Database(cfg.Database),
		logger: log,
	}, nil
}

// Health returns the health status of MongoDB
func (c *Client) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to disconnect MongoDB client")
		return err
	}
	c.logger.Info().Msg("MongoDB connection closed")
	return nil
}

// RenameCollection renames from to to within the client database. It is a
// no-op when from does not exist or to already exists.
func (c *Client) RenameCollection(ctx context.Context, from, to string) (bool, error) {
	names, err := c.DB.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$in": bson.A{from, to}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}

	hasFrom, hasTo := false, false
	for _, n := range names {
		hasFrom = hasFrom || n == from
		hasTo = hasTo || n == to
	}
	if !hasFrom || hasTo {
		return false, nil
	}

	dbName := c.DB.Name()
	cmd := bson.D{
		{Key: "renameCollection", Value: dbName + "." + from},
		{Key: "to", Value: dbName + "." + to},
	}
	// renameCollection is an admin command.
	if err := c.Client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return false, fmt.Errorf("failed to rename %s to %s: %w", from, to, err)
	}

	c.logger.Info().Str("from", from).Str("to", to).Msg("collection renamed")
	return true, nil
}

const (
	moveBatchSize     = 500
	duplicateKeyError = 11000
)

// MoveResult describes one MoveCollection call.
type MoveResult struct {
	From    string
	To      string
	Renamed bool
	Moved   int
	// Skipped holds the _id of every document that conflicted with a unique
	// index in the target. Those documents stay in From.
	Skipped []string
}

// MoveCollection moves every document of from into to. A missing target is
// created by renaming from. Otherwise documents are copied in batches,
// removed from from once written, and from is dropped when it ends up
// empty. A missing source is a no-op.
func (c *Client) MoveCollection(ctx context.Context, from, to string) (*MoveResult, error) {
	res := &MoveResult{From: from, To: to}

	names, err := c.DB.ListCollectionNames(ctx, bson.M{"name": from})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	if len(names) == 0 {
		return res, nil
	}

	renamed, err := c.RenameCollection(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if renamed {
		n, err := c.DB.Collection(to).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", to, err)
		}
		res.Renamed = true
		res.Moved = int(n)
		return res, nil
	}

	src := c.DB.Collection(from)
	cur, err := src.Find(ctx, bson.M{}, options.Find().SetBatchSize(moveBatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", from, err)
	}
	defer cur.Close(ctx)

	batch := make([]bson.Raw, 0, moveBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		moved, skipped, err := c.copyBatch(ctx, src, c.DB.Collection(to), batch)
		res.Moved += moved
		res.Skipped = append(res.Skipped, skipped...)
		batch = batch[:0]
		return err
	}

	for cur.Next(ctx) {
		batch = append(batch, append(bson.Raw(nil), cur.Current...))
		if len(batch) == moveBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return res, fmt.Errorf("failed to read %s: %w", from, err)
	}
	if err := flush(); err != nil {
		return res, err
	}

	if len(res.Skipped) == 0 {
		if err := src.Drop(ctx); err != nil {
			return res, fmt.Errorf("failed to drop %s: %w", from, err)
		}
	}

	c.logger.Info().
		Str("from", from).
		Str("to", to).
		Int("moved", res.Moved).
		Int("skipped", len(res.Skipped)).
		Msg("collection merged")
	return res, nil
}

// copyBatch inserts docs into dst and deletes the written ones from src.
// Documents rejected with a duplicate key are reported as skipped.
func (c *Client) copyBatch(ctx context.Context, src, dst *mongo.Collection, docs []bson.Raw) (int, []string, error) {
	ids := make([]bson.RawValue, len(docs))
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		ids[i] = d.Lookup("_id")
		batch[i] = d
	}

	rejected := map[int]bool{}
	_, err := dst.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
			return 0, nil, fmt.Errorf("failed to copy into %s: %w", dst.Name(), err)
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != duplicateKeyError {
				return 0, nil, fmt.Errorf("failed to copy into %s: %w", dst.Name(), err)
			}
			rejected[we.Index] = true
		}
	}

	written := make([]interface{}, 0, len(docs))
	var skipped []string
	for i, id := range ids {
		if rejected[i] {
			skipped = append(skipped, idString(id))
			continue
		}
		written = append(written, id)
	}

	if len(written) > 0 {
		if _, err := src.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": written}}); err != nil {
			return 0, skipped, fmt.Errorf("failed to remove copied documents from %s: %w", src.Name(), err)
		}
	}
	return len(written), skipped, nil
}

func idString(v bson.RawValue) string {
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if str, ok := v.StringValueOK(); ok {
		return str
	}
	return v.String()
}
