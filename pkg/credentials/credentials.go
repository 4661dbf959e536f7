package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/fanout"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultExpiry is how long a created node user stays valid
const DefaultExpiry = 24 * time.Hour

// Report maps each targeted node to the outcome of a user operation.
// A nil error means the node succeeded.
type Report map[string]error

// Succeeded returns the sorted ids of nodes that succeeded
func (r Report) Succeeded() []string {
	var ids []string
	for id, err := range r {
		if err == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Failed returns the nodes that failed and why
func (r Report) Failed() map[string]error {
	failed := make(map[string]error)
	for id, err := range r {
		if err != nil {
			failed[id] = err
		}
	}
	return failed
}

// Err joins the per-node failures, or returns nil if every node succeeded
func (r Report) Err() error {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if r[id] != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", id, r[id]))
		}
	}
	return errors.Join(errs...)
}

// Manager creates and deletes OS-level users on cluster nodes through the
// scheduler. Cluster-wide operations are best effort: successes are never
// rolled back when other nodes fail.
type Manager struct {
	scheduler scheduler.Client
	limit     int
	expiry    time.Duration
	logger    zerolog.Logger
}

// NewManager creates a manager running at most maxConcurrency node calls at once
func NewManager(client scheduler.Client, maxConcurrency int) *Manager {
	if maxConcurrency < 1 {
		maxConcurrency = fanout.DefaultMaxConcurrency
	}
	return &Manager{
		scheduler: client,
		limit:     maxConcurrency,
		expiry:    DefaultExpiry,
		logger:    log.WithComponent("credentials"),
	}
}

// NewCredential generates a username and a fresh key pair without touching
// any node. It is the first phase of GenerateUser; Apply is the second.
func NewCredential() (*types.Credential, error) {
	kp, err := security.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &types.Credential{
		Username:      security.GenerateUsername(),
		PublicKey:     kp.PublicKey,
		PrivateKeyPEM: kp.PrivateKeyPEM,
	}, nil
}

func (m *Manager) nodeUser(username, publicKey, password string) (scheduler.NodeUser, error) {
	if username == "" {
		return scheduler.NodeUser{}, errdefs.Validation("create user", "username is required")
	}
	if publicKey == "" && password == "" {
		return scheduler.NodeUser{}, errdefs.Validation("create user", "an ssh public key or a password is required for %s", username)
	}
	user := scheduler.NodeUser{
		Name:       username,
		Password:   password,
		IsAdmin:    true,
		ExpiryTime: time.Now().UTC().Add(m.expiry),
	}
	if publicKey != "" {
		key, err := security.ParsePublicKey(publicKey)
		if err != nil {
			return scheduler.NodeUser{}, errdefs.Validation("create user", "%v", err)
		}
		user.PublicKey = key
	}
	return user, nil
}

// CreateUser creates a user on one node. Creating a user that already exists
// with the same credentials succeeds.
func (m *Manager) CreateUser(ctx context.Context, clusterID, nodeID, username, publicKey, password string) error {
	user, err := m.nodeUser(username, publicKey, password)
	if err != nil {
		return err
	}
	return m.createUser(ctx, clusterID, nodeID, user)
}

func (m *Manager) createUser(ctx context.Context, clusterID, nodeID string, user scheduler.NodeUser) error {
	logger := log.WithNodeID(m.logger, clusterID, nodeID).With().Str("user", user.Name).Logger()

	err := m.scheduler.AddNodeUser(ctx, clusterID, nodeID, user)
	if err == nil {
		metrics.UsersTotal.WithLabelValues("create", "success").Inc()
		logger.Debug().Msg("User created")
		return nil
	}

	err = scheduler.Classify("create user", err)
	if errdefs.IsConflict(err) {
		existing, getErr := m.scheduler.GetNodeUser(ctx, clusterID, nodeID, user.Name)
		if getErr == nil && m.sameCredentials(ctx, clusterID, nodeID, existing, user) {
			metrics.UsersTotal.WithLabelValues("create", "exists").Inc()
			logger.Debug().Msg("User already exists with the same credentials")
			return nil
		}
	}

	metrics.UsersTotal.WithLabelValues("create", "error").Inc()
	logger.Warn().Err(err).Msg("Failed to create user")
	return err
}

func (m *Manager) sameCredentials(ctx context.Context, clusterID, nodeID string, existing *scheduler.NodeUser, want scheduler.NodeUser) bool {
	if want.PublicKey != "" {
		for _, line := range strings.Split(existing.PublicKey, "\n") {
			key, err := security.ParsePublicKey(line)
			if err == nil && key == want.PublicKey {
				return true
			}
		}
		return false
	}
	if want.Password == "" {
		return false
	}
	if v, ok := m.scheduler.(scheduler.PasswordVerifier); ok {
		match, err := v.VerifyNodeUserPassword(ctx, clusterID, nodeID, want.Name, want.Password)
		return err == nil && match
	}
	return existing.Password == want.Password
}

// DeleteUser removes a user from one node
func (m *Manager) DeleteUser(ctx context.Context, clusterID, nodeID, username string) error {
	if username == "" {
		return errdefs.Validation("delete user", "username is required")
	}
	err := m.scheduler.DeleteNodeUser(ctx, clusterID, nodeID, username)
	metrics.UsersTotal.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		err = scheduler.Classify("delete user", err)
		logger := log.WithNodeID(m.logger, clusterID, nodeID)
		logger.Warn().Err(err).Str("user", username).Msg("Failed to delete user")
		return err
	}
	return nil
}

// GenerateUser generates a credential and creates its user on one node
func (m *Manager) GenerateUser(ctx context.Context, clusterID, nodeID string) (*types.Credential, error) {
	cred, err := NewCredential()
	if err != nil {
		return nil, err
	}
	if err := m.CreateUser(ctx, clusterID, nodeID, cred.Username, cred.PublicKey, ""); err != nil {
		return nil, err
	}
	return cred, nil
}

// CreateUserOnCluster creates a user on the given nodes, or every node when
// nodeIDs is empty. Only invalid input fails the whole call.
func (m *Manager) CreateUserOnCluster(ctx context.Context, cluster *types.Cluster, nodeIDs []string, username, publicKey, password string) (Report, error) {
	user, err := m.nodeUser(username, publicKey, password)
	if err != nil {
		return nil, err
	}
	return m.each(ctx, cluster, nodeIDs, func(ctx context.Context, nodeID string) error {
		return m.createUser(ctx, cluster.ID, nodeID, user)
	}), nil
}

// DeleteUserOnCluster removes a user from the given nodes, or every node
func (m *Manager) DeleteUserOnCluster(ctx context.Context, cluster *types.Cluster, nodeIDs []string, username string) (Report, error) {
	if username == "" {
		return nil, errdefs.Validation("delete user", "username is required")
	}
	return m.each(ctx, cluster, nodeIDs, func(ctx context.Context, nodeID string) error {
		return m.DeleteUser(ctx, cluster.ID, nodeID, username)
	}), nil
}

// GenerateUserOnCluster generates one credential and creates its user on
// the given nodes, or every node
func (m *Manager) GenerateUserOnCluster(ctx context.Context, cluster *types.Cluster, nodeIDs []string) (*types.Credential, Report, error) {
	cred, err := NewCredential()
	if err != nil {
		return nil, nil, err
	}
	report, err := m.Apply(ctx, cluster, nodeIDs, cred)
	return cred, report, err
}

// Apply creates cred's user on the given nodes, or every node. Applying the
// same credential again retries only what failed; nodes that already have
// the user succeed.
func (m *Manager) Apply(ctx context.Context, cluster *types.Cluster, nodeIDs []string, cred *types.Credential) (Report, error) {
	if cred == nil {
		return nil, errdefs.Validation("apply credential", "credential is required")
	}
	return m.CreateUserOnCluster(ctx, cluster, nodeIDs, cred.Username, cred.PublicKey, cred.Password)
}

func (m *Manager) each(ctx context.Context, cluster *types.Cluster, nodeIDs []string, fn func(context.Context, string) error) Report {
	ids := fanout.TargetIDs(cluster, nodeIDs)
	results := fanout.Map(ctx, m.limit, ids, func(ctx context.Context, nodeID string) error {
		if cluster.Node(nodeID) == nil {
			return errdefs.NotFound("user operation", "node %s not found in cluster %s", nodeID, cluster.ID)
		}
		return fn(ctx, nodeID)
	})

	report := Report(results)
	if failed := report.Failed(); len(failed) > 0 {
		logger := log.WithClusterID(m.logger, cluster.ID)
		logger.Warn().
			Int("failed", len(failed)).
			Int("succeeded", len(report.Succeeded())).
			Msg("User operation partially failed")
	}
	return report
}
