// Package state persists deployment documents as JSON objects in S3-compatible
// object storage, one object per deployment at <prefix>/<name>.json.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json"

// ErrNotFound is returned when no state document exists for a deployment.
var ErrNotFound = errors.New("deployment state not found")

// Store reads and writes deployment documents. There is no locking: two
// concurrent Update calls race and the last write wins.
type Store struct {
	objects ObjectStore
	bucket  string
	prefix  string
}

// NewStore creates a store writing into bucket under prefix.
func NewStore(objects ObjectStore, bucket, prefix string) *Store {
	return &Store{objects: objects, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a deployment name.
func (s *Store) Key(name string) string {
	if s.prefix == "" {
		return name + ".json"
	}
	return path.Join(s.prefix, name+".json")
}

// Save writes a full document for name, overwriting any existing one.
func (s *Store) Save(ctx context.Context, name string, regions []Region, terraformVariables map[string]string, bootstrapIP string, vmIPs map[string][]string) error {
	if regions == nil {
		regions = []Region{}
	}
	if terraformVariables == nil {
		terraformVariables = map[string]string{}
	}
	if vmIPs == nil {
		vmIPs = map[string][]string{}
	}
	doc := Deployment{
		KeyName:               name,
		KeyRegions:            regions,
		KeyTerraformVariables: terraformVariables,
		KeyBootstrapIP:        bootstrapIP,
		KeyVMIPs:              vmIPs,
	}
	return s.put(ctx, name, doc)
}

// Load fetches and parses the document for name. A missing object yields an
// error wrapping ErrNotFound.
func (s *Store) Load(ctx context.Context, name string) (Deployment, error) {
	key := s.Key(name)
	data, err := s.objects.GetObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("no deployment state found for '%s' (s3://%s/%s): %w", name, s.bucket, key, ErrNotFound)
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Deployment
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse deployment state %s: %w", key, err)
	}
	if doc == nil {
		doc = Deployment{}
	}
	return doc, nil
}

// Update loads the document for name, shallow-merges fields over it and saves
// the result. Keys in fields overwrite, every other key is left untouched.
func (s *Store) Update(ctx context.Context, name string, fields map[string]any) (Deployment, error) {
	doc, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	if err := s.put(ctx, name, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes the document for name. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	log.Debug().Str("key", s.Key(name)).Msg("Deleting deployment state")
	return s.objects.DeleteObject(ctx, s.bucket, s.Key(name))
}

// List returns the deployment names stored under the prefix, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	keys, err := s.objects.ListObjects(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(rest, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) put(ctx context.Context, name string, doc Deployment) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode deployment state: %w", err)
	}
	key := s.Key(name)
	log.Debug().Str("bucket", s.bucket).Str("key", key).Int("bytes", len(body)).Msg("Writing deployment state")
	return s.objects.PutObject(ctx, s.bucket, key, contentTypeJSON, body)
}
