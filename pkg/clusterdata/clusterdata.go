package clusterdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
)

// Toolkit is the software installed on a cluster's nodes
type Toolkit struct {
	Software string `yaml:"software"`
	Version  string `yaml:"version"`
}

var supportedSoftware = map[string]bool{"spark": true}

// Validate checks that the toolkit names supported software
func (t *Toolkit) Validate() error {
	if !supportedSoftware[t.Software] {
		return errdefs.Validation("validate toolkit", "toolkit %q is not supported", t.Software)
	}
	if t.Version == "" {
		return errdefs.Validation("validate toolkit", "toolkit %s needs a version", t.Software)
	}
	return nil
}

// ClusterConfiguration is the configuration a cluster was created with
type ClusterConfiguration struct {
	ClusterID        string   `yaml:"id"`
	Toolkit          *Toolkit `yaml:"toolkit"`
	VMSize           string   `yaml:"vm_size"`
	DedicatedNodes   int      `yaml:"size"`
	LowPriorityNodes int      `yaml:"size_low_priority"`
	SubnetID         string   `yaml:"subnet_id,omitempty"`
	WorkerOnMaster   bool     `yaml:"worker_on_master"`
	UserName         string   `yaml:"username,omitempty"`
}

// MixedMode reports whether the cluster has both dedicated and low priority nodes
func (c *ClusterConfiguration) MixedMode() bool {
	return c.DedicatedNodes > 0 && c.LowPriorityNodes > 0
}

// Validate checks the configuration is complete
func (c *ClusterConfiguration) Validate() error {
	if c.Toolkit == nil {
		return errdefs.Validation("validate cluster configuration", "please supply a toolkit in the cluster configuration")
	}
	if err := c.Toolkit.Validate(); err != nil {
		return err
	}
	if c.ClusterID == "" {
		return errdefs.Validation("validate cluster configuration", "please supply an id for the cluster")
	}
	if c.DedicatedNodes <= 0 && c.LowPriorityNodes <= 0 {
		return errdefs.Validation("validate cluster configuration",
			"please supply a value greater than 0 for either size or size_low_priority")
	}
	if c.VMSize == "" {
		return errdefs.Validation("validate cluster configuration", "please supply a vm_size")
	}
	if c.MixedMode() && c.SubnetID == "" {
		return errdefs.Validation("validate cluster configuration",
			"mixed mode (dedicated and low priority nodes) requires a subnet_id")
	}
	return nil
}

const (
	configBlob = "config.yaml"
	keysBlob   = "ssh-keys.sealed"
)

// Data persists a cluster's configuration and SSH key pair in blob storage,
// keyed by cluster id. Key material is sealed with a key derived from the
// passphrase and the cluster id.
type Data struct {
	blobs      storage.BlobStore
	passphrase string
	logger     zerolog.Logger
}

// NewData creates a cluster data store
func NewData(blobs storage.BlobStore, passphrase string) *Data {
	return &Data{
		blobs:      blobs,
		passphrase: passphrase,
		logger:     log.WithComponent("clusterdata"),
	}
}

func blobKey(clusterID, name string) string {
	return "clusters/" + clusterID + "/" + name
}

// SaveConfig validates and stores a cluster configuration
func (d *Data) SaveConfig(ctx context.Context, cfg *ClusterConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster configuration: %w", err)
	}
	if err := d.blobs.PutBlob(ctx, blobKey(cfg.ClusterID, configBlob), data); err != nil {
		return err
	}
	d.logger.Debug().Str("cluster_id", cfg.ClusterID).Msg("Saved cluster configuration")
	return nil
}

// ReadConfig returns the stored configuration of a cluster
func (d *Data) ReadConfig(ctx context.Context, clusterID string) (*ClusterConfiguration, error) {
	data, err := d.blobs.GetBlob(ctx, blobKey(clusterID, configBlob))
	if err != nil {
		return nil, err
	}
	var cfg ClusterConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration of cluster %s: %w", clusterID, err)
	}
	return &cfg, nil
}

// SaveKeyPair seals and stores the cluster's SSH key pair
func (d *Data) SaveKeyPair(ctx context.Context, clusterID string, kp *security.KeyPair) error {
	sealer, err := d.sealer(clusterID)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(kp)
	if err != nil {
		return fmt.Errorf("failed to marshal key pair: %w", err)
	}
	sealed, err := sealer.Seal(plain)
	if err != nil {
		return err
	}
	return d.blobs.PutBlob(ctx, blobKey(clusterID, keysBlob), sealed)
}

// ReadKeyPair returns the cluster's SSH key pair
func (d *Data) ReadKeyPair(ctx context.Context, clusterID string) (*security.KeyPair, error) {
	sealed, err := d.blobs.GetBlob(ctx, blobKey(clusterID, keysBlob))
	if err != nil {
		return nil, err
	}
	sealer, err := d.sealer(clusterID)
	if err != nil {
		return nil, err
	}
	plain, err := sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open key pair of cluster %s: %w", clusterID, err)
	}
	var kp security.KeyPair
	if err := json.Unmarshal(plain, &kp); err != nil {
		return nil, fmt.Errorf("failed to parse key pair of cluster %s: %w", clusterID, err)
	}
	return &kp, nil
}

// EnsureKeyPair returns the cluster's key pair, generating and storing a new
// one if none exists yet
func (d *Data) EnsureKeyPair(ctx context.Context, clusterID string) (*security.KeyPair, error) {
	kp, err := d.ReadKeyPair(ctx, clusterID)
	if err == nil {
		return kp, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}

	kp, err = security.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := d.SaveKeyPair(ctx, clusterID, kp); err != nil {
		return nil, err
	}
	d.logger.Info().Str("cluster_id", clusterID).Msg("Generated cluster key pair")
	return kp, nil
}

// Delete removes everything stored for a cluster
func (d *Data) Delete(ctx context.Context, clusterID string) error {
	for _, name := range []string{configBlob, keysBlob} {
		if err := d.blobs.DeleteBlob(ctx, blobKey(clusterID, name)); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (d *Data) sealer(clusterID string) (*security.Sealer, error) {
	if d.passphrase == "" {
		return nil, errdefs.Validation("seal key pair", "a passphrase is required to store key material")
	}
	return security.NewSealerForCluster(d.passphrase, clusterID)
}
