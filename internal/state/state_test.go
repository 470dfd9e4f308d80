package state

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

// memObjects is an in-memory ObjectStore.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []putCall
	deletes []string
	getErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) PutObject(_ context.Context, bucket, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.puts = append(m.puts, putCall{bucket: bucket, key: key, contentType: contentType, body: data})
	return nil
}

func (m *memObjects) GetObject(_ context.Context, _, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memObjects) DeleteObject(_ context.Context, _, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deletes = append(m.deletes, key)
	return nil
}

func (m *memObjects) ListObjects(_ context.Context, _, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memObjects) seed(t *testing.T, key string, doc map[string]any) {
	t.Helper()
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	m.objects[key] = b
}

func TestSave_PutsJSONDocument(t *testing.T) {
	objects := newMemObjects()
	store := NewStore(objects, "saorsa-deploy", "deployments")

	err := store.Save(context.Background(), "DEV-01",
		[]Region{{"digitalocean", "lon1"}, {"digitalocean", "nyc1"}},
		map[string]string{"name": "DEV-01", "vm_count": "2"},
		"143.198.100.50",
		map[string][]string{"digitalocean/lon1": {"10.0.0.1"}, "digitalocean/nyc1": {"10.0.0.2"}},
	)
	require.NoError(t, err)

	require.Len(t, objects.puts, 1)
	call := objects.puts[0]
	assert.Equal(t, "saorsa-deploy", call.bucket)
	assert.Equal(t, "deployments/DEV-01.json", call.key)
	assert.Equal(t, "application/json", call.contentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(call.body, &body))
	assert.Equal(t, "DEV-01", body["name"])
	assert.Equal(t, []any{[]any{"digitalocean", "lon1"}, []any{"digitalocean", "nyc1"}}, body["regions"])
	assert.Equal(t, "2", body["terraform_variables"].(map[string]any)["vm_count"])
	assert.Equal(t, "143.198.100.50", body["bootstrap_ip"])
	assert.Equal(t, map[string]any{
		"digitalocean/lon1": []any{"10.0.0.1"},
		"digitalocean/nyc1": []any{"10.0.0.2"},
	}, body["vm_ips"])
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	objects := newMemObjects()
	store := NewStore(objects, "b", "deployments")
	ctx := context.Background()

	vmIPs := map[string][]string{
		"digitalocean/lon1": {"10.0.0.1", "10.0.0.2"},
		"digitalocean/ams3": {"10.0.0.3"},
	}
	require.NoError(t, store.Save(ctx, "DEV-01",
		[]Region{{"digitalocean", "lon1"}, {"digitalocean", "ams3"}},
		map[string]string{"name": "DEV-01"}, "143.198.100.50", vmIPs))

	doc, err := store.Load(ctx, "DEV-01")
	require.NoError(t, err)
	assert.Equal(t, "DEV-01", doc.Name())
	assert.Equal(t, "143.198.100.50", doc.BootstrapIP())
	assert.Equal(t, []Region{{"digitalocean", "lon1"}, {"digitalocean", "ams3"}}, doc.Regions())
	assert.Equal(t, vmIPs, doc.VMIPs())
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}, doc.AllIPs())
	_, ok := doc.BootstrapPort()
	assert.False(t, ok)
}

func TestLoad_NotFound(t *testing.T) {
	store := NewStore(newMemObjects(), "b", "deployments")

	_, err := store.Load(context.Background(), "NONEXISTENT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "no deployment state found for 'NONEXISTENT'")
}

func TestLoad_BackendErrorPropagates(t *testing.T) {
	objects := newMemObjects()
	objects.getErr = errors.New("access denied")
	store := NewStore(objects, "b", "deployments")

	_, err := store.Load(context.Background(), "DEV-01")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "access denied")
}

func TestUpdate_MergesIntoExistingState(t *testing.T) {
	objects := newMemObjects()
	objects.seed(t, "deployments/DEV-01.json", map[string]any{
		"name":         "DEV-01",
		"regions":      [][]string{{"digitalocean", "lon1"}},
		"bootstrap_ip": "10.0.0.1",
	})
	store := NewStore(objects, "b", "deployments")

	_, err := store.Update(context.Background(), "DEV-01", map[string]any{"bootstrap_port": 5000})
	require.NoError(t, err)

	require.Len(t, objects.puts, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(objects.puts[0].body, &body))
	assert.Equal(t, "DEV-01", body["name"])
	assert.Equal(t, "10.0.0.1", body["bootstrap_ip"])
	assert.Equal(t, float64(5000), body["bootstrap_port"])
	assert.Equal(t, []any{[]any{"digitalocean", "lon1"}}, body["regions"])
}

func TestUpdate_OverwritesExistingKeys(t *testing.T) {
	objects := newMemObjects()
	objects.seed(t, "deployments/DEV-01.json", map[string]any{"name": "DEV-01", "node_count": 3})
	store := NewStore(objects, "b", "deployments")
	ctx := context.Background()

	_, err := store.Update(ctx, "DEV-01", map[string]any{"node_count": 5})
	require.NoError(t, err)

	doc, err := store.Load(ctx, "DEV-01")
	require.NoError(t, err)
	n, ok := doc.NodeCount()
	require.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestUpdate_IdempotentWithSameValue(t *testing.T) {
	objects := newMemObjects()
	objects.seed(t, "deployments/DEV-01.json", map[string]any{"name": "DEV-01", "bootstrap_ip": "10.0.0.1"})
	store := NewStore(objects, "b", "deployments")
	ctx := context.Background()

	_, err := store.Update(ctx, "DEV-01", map[string]any{"bootstrap_port": 5000})
	require.NoError(t, err)
	first := string(objects.objects["deployments/DEV-01.json"])

	_, err = store.Update(ctx, "DEV-01", map[string]any{"bootstrap_port": 5000})
	require.NoError(t, err)
	assert.JSONEq(t, first, string(objects.objects["deployments/DEV-01.json"]))
}

func TestUpdate_MissingDeployment(t *testing.T) {
	objects := newMemObjects()
	store := NewStore(objects, "b", "deployments")

	_, err := store.Update(context.Background(), "NOPE", map[string]any{"bootstrap_port": 5000})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, objects.puts)
}

func TestDelete(t *testing.T) {
	objects := newMemObjects()
	objects.seed(t, "deployments/DEV-01.json", map[string]any{"name": "DEV-01"})
	store := NewStore(objects, "b", "deployments")
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "DEV-01"))
	require.NoError(t, store.Delete(ctx, "DEV-01"))
	assert.Equal(t, []string{"deployments/DEV-01.json", "deployments/DEV-01.json"}, objects.deletes)

	_, err := store.Load(ctx, "DEV-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	objects := newMemObjects()
	objects.seed(t, "deployments/B.json", map[string]any{})
	objects.seed(t, "deployments/A.json", map[string]any{})
	objects.seed(t, "deployments/nested/C.json", map[string]any{})
	objects.seed(t, "deployments/notes.txt", map[string]any{})
	store := NewStore(objects, "b", "/deployments/")

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestRegionJSON(t *testing.T) {
	b, err := json.Marshal([]Region{{"hetzner", "fsn1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[["hetzner","fsn1"]]`, string(b))

	var r Region
	assert.Error(t, json.Unmarshal([]byte(`["only-one"]`), &r))
	assert.Equal(t, "hetzner/fsn1", Region{"hetzner", "fsn1"}.String())
}
