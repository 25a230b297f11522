package ens

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestNameHash_Vectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
	}{
		{"", "0x0000000000000000000000000000000000000000000000000000000000000000"},
		{"eth", "0x93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae"},
		{"foo.eth", "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f"},
		{"FOO.eth", "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NameHash(tt.name).Hex(); got != tt.expected {
				t.Errorf("NameHash(%q) = %s, want %s", tt.name, got, tt.expected)
			}
		})
	}
}

var (
	testResolverAddr = common.HexToAddress("0x4976fb03C32e5B8cfe2b6cCB31c09Ba78EBaBa41")
	testOwnerAddr    = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")
)

// fakeBackend answers registry and resolver calls from maps keyed by node.
type fakeBackend struct {
	t          *testing.T
	registry   common.Address
	resolvers  map[common.Hash]common.Address
	addrs      map[common.Hash]common.Address
	callErr    error
	garbage    bool
	calls      int
	blockErr   error
	registryAB abi.ABI
	resolverAB abi.ABI
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	registryABI, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		t.Fatalf("parse registry abi: %v", err)
	}
	resolverABI, err := abi.JSON(strings.NewReader(resolverABIJSON))
	if err != nil {
		t.Fatalf("parse resolver abi: %v", err)
	}
	return &fakeBackend{
		t:          t,
		registry:   common.HexToAddress(DefaultRegistryAddress),
		resolvers:  make(map[common.Hash]common.Address),
		addrs:      make(map[common.Hash]common.Address),
		registryAB: registryABI,
		resolverAB: resolverABI,
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.garbage {
		return []byte{0x01, 0x02}, nil
	}
	if call.To == nil || len(call.Data) != 4+32 {
		f.t.Fatalf("unexpected call: %+v", call)
	}
	node := common.BytesToHash(call.Data[4:])

	switch *call.To {
	case f.registry:
		if !bytes.Equal(call.Data[:4], f.registryAB.Methods["resolver"].ID) {
			f.t.Fatalf("registry called with unexpected selector %x", call.Data[:4])
		}
		return f.registryAB.Methods["resolver"].Outputs.Pack(f.resolvers[node])
	default:
		if !bytes.Equal(call.Data[:4], f.resolverAB.Methods["addr"].ID) {
			f.t.Fatalf("resolver called with unexpected selector %x", call.Data[:4])
		}
		return f.resolverAB.Methods["addr"].Outputs.Pack(f.addrs[node])
	}
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 19_000_000, f.blockErr
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	node := NameHash("vitalik.eth")
	backend.resolvers[node] = testResolverAddr
	backend.addrs[node] = testOwnerAddr

	r, err := New(backend, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	addr, err := r.Resolve(context.Background(), "vitalik.eth")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr != testOwnerAddr {
		t.Errorf("Resolve = %s, want %s", addr.Hex(), testOwnerAddr.Hex())
	}
	if backend.calls != 2 {
		t.Errorf("expected 2 contract calls, got %d", backend.calls)
	}
}

func TestResolver_NoResolver(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	r, _ := New(backend, Config{})

	_, err := r.Resolve(context.Background(), "unregistered.eth")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("error = %v, want ErrNotRegistered", err)
	}
	if !errors.Is(err, ErrResolutionFailed) {
		t.Error("ErrNotRegistered should match ErrResolutionFailed")
	}
	if backend.calls != 1 {
		t.Errorf("resolver must not be queried without a registry entry, got %d calls", backend.calls)
	}
}

func TestResolver_NoAddress(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.resolvers[NameHash("empty.eth")] = testResolverAddr

	r, _ := New(backend, Config{})
	_, err := r.Resolve(context.Background(), "empty.eth")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("error = %v, want ErrNotRegistered", err)
	}
}

func TestResolver_TransportError(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.callErr = errors.New("connection refused")

	r, _ := New(backend, Config{})
	_, err := r.Resolve(context.Background(), "vitalik.eth")
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("error = %v, want ErrLookupFailed", err)
	}
	if !errors.Is(err, ErrResolutionFailed) {
		t.Error("ErrLookupFailed should match ErrResolutionFailed")
	}
	if errors.Is(err, ErrNotRegistered) {
		t.Error("transport errors must be distinguishable from unregistered names")
	}
}

func TestResolver_MalformedResponse(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.garbage = true

	r, _ := New(backend, Config{})
	if _, err := r.Resolve(context.Background(), "vitalik.eth"); !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("error = %v, want ErrLookupFailed", err)
	}
}

// blockingBackend waits for the context to end.
type blockingBackend struct{}

func (blockingBackend) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingBackend) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func TestResolver_Timeout(t *testing.T) {
	t.Parallel()

	r, _ := New(blockingBackend{}, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Resolve(context.Background(), "slow.eth")
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("error = %v, want ErrLookupFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
}

func TestNew_InvalidRegistry(t *testing.T) {
	t.Parallel()

	if _, err := New(newFakeBackend(t), Config{RegistryAddress: "not-an-address"}); err == nil {
		t.Fatal("expected error for invalid registry address")
	}
}

func TestResolver_Ping(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	r, _ := New(backend, Config{})
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	backend.blockErr = errors.New("rpc down")
	if err := r.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping error")
	}
}
