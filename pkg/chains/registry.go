package chains

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages chain clients for different blockchain networks
type Registry struct {
	clients map[string]Client
	mu      sync.RWMutex
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// InitGlobalRegistry initializes the global chain registry
func InitGlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// GetGlobalRegistry returns the global chain registry (returns nil if not initialized)
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register registers a chain client (uses client.Network() as key)
// If a client already exists for the network, it will be replaced (idempotent)
func (r *Registry) Register(client Client) error {
	if client == nil {
		return fmt.Errorf("cannot register nil client")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.Network()] = client
	return nil
}

// Get retrieves a chain client by network name
func (r *Registry) Get(network string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[network]
	if !exists {
		return nil, &UnsupportedNetworkError{Network: network}
	}

	return client, nil
}

// GetSupportedNetworks returns the registered networks in name order
func (r *Registry) GetSupportedNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.clients))
	for network := range r.clients {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// IsSupported checks if a network is supported
func (r *Registry) IsSupported(network string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.clients[network]
	return exists
}

// SupportsBatches reports whether the network's client implements BatchSubmitter
func (r *Registry) SupportsBatches(network string) bool {
	client, err := r.Get(network)
	if err != nil {
		return false
	}
	_, ok := client.(BatchSubmitter)
	return ok
}

// Unregister removes a chain client (useful for testing)
func (r *Registry) Unregister(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, network)
}

// ResetGlobalRegistry resets the global registry (useful for testing)
func ResetGlobalRegistry() {
	globalRegistry = nil
	globalRegistryOnce = sync.Once{}
}
