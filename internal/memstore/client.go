package memstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/memsubstrate/internal/logger"
)

// Client wraps a neo4j driver plus the database name to run against. A nil
// Driver means the store is unconfigured (e.g. in tests using a fake
// Driver is preferred over a nil check scattered through Store).
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// NewFromEnv dials Neo4j using NEO4J_URI/NEO4J_USER/NEO4J_PASSWORD/
// NEO4J_DATABASE, matching the connection-pool and timeout knobs the
// teacher's platform client exposes. Returns (nil, nil) when NEO4J_URI is
// unset, so callers can run the graph-dependent components disabled.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, nil
	}

	user := strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if user == "" {
		user = "neo4j"
	}
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxPool := 50
	if v := strings.TrimSpace(os.Getenv("NEO4J_MAX_POOL_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxPool = parsed
		}
	}

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = time.Duration(timeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("memstore: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("memstore: verify connectivity: %w", err)
	}

	if log != nil {
		log.Info("memstore connected", "database", database)
	}

	return &Client{Driver: driver, Database: database}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.Database,
	})
}

// EnsureSchema creates the constraints and vector index the store depends
// on. Best-effort: a failed statement is logged and execution continues,
// matching the teacher's "best-effort schema init" discipline — a schema
// statement failing (e.g. already exists under a different index type)
// must never prevent the service from starting.
func (c *Client) EnsureSchema(ctx context.Context, log *logger.Logger, dimension int) {
	if c == nil || c.Driver == nil {
		return
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT memory_id_unique IF NOT EXISTS FOR (m:Memory) REQUIRE m.memory_id IS UNIQUE`,
		`CREATE CONSTRAINT conversation_id_unique IF NOT EXISTS FOR (c:Conversation) REQUIRE c.session_id IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (m:Memory) ON (m.embedding)
OPTIONS {indexConfig: {
  `+"`vector.dimensions`"+`: %d,
  `+"`vector.similarity_function`"+`: 'cosine'
}}`, vectorIndexName, dimension),
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			if log != nil {
				log.Warn("memstore schema init failed (continuing)", "error", err.Error())
			}
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}
