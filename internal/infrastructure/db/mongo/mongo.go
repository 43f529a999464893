package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultTimeout = 10 * time.Second

// ErrNoChangeStreams is returned by Connect when change streams were
// required but the deployment is a standalone server.
var ErrNoChangeStreams = errors.New("mongo deployment does not support change streams")

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
	// ChangeStreams makes Connect fail unless the server is a replica set
	// member or a mongos router.
	ChangeStreams bool
}

// Connect opens a client reading from the primary, pings it and returns the
// selected database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("estimate-sync").
		SetReadPreference(readpref.Primary())

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	if cfg.ChangeStreams {
		if err := checkTopology(connectCtx, db); err != nil {
			_ = client.Disconnect(connectCtx)
			return nil, nil, err
		}
	}
	return client, db, nil
}

// helloReply is the subset of the hello command response that tells
// deployments apart.
type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

func (h helloReply) supportsChangeStreams() bool {
	return h.SetName != "" || h.Msg == "isdbgrid"
}

func checkTopology(ctx context.Context, db *mongo.Database) error {
	var reply helloReply
	if err := db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply); err != nil {
		return fmt.Errorf("mongo hello: %w", err)
	}
	if !reply.supportsChangeStreams() {
		return ErrNoChangeStreams
	}
	return nil
}
