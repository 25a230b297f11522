// Package ens resolves ENS names to Ethereum addresses over JSON-RPC.
package ens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultRegistryAddress is the ENS registry on Ethereum mainnet.
const DefaultRegistryAddress = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

// DefaultTimeout bounds one resolution.
const DefaultTimeout = 10 * time.Second

// Resolution errors. Both ErrNotRegistered and ErrLookupFailed match
// ErrResolutionFailed with errors.Is.
var (
	ErrResolutionFailed = errors.New("ens resolution failed")
	ErrNotRegistered    = fmt.Errorf("%w: name has no address", ErrResolutionFailed)
	ErrLookupFailed     = fmt.Errorf("%w: lookup error", ErrResolutionFailed)
)

const registryABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "node", "type": "bytes32"}],
		"name": "resolver",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const resolverABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "node", "type": "bytes32"}],
		"name": "addr",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Backend is the subset of ethclient.Client the resolver needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures a Resolver.
type Config struct {
	RegistryAddress string
	Timeout         time.Duration
}

// Resolver looks up ENS names through the registry and the name's resolver.
type Resolver struct {
	backend     Backend
	registry    common.Address
	registryABI abi.ABI
	resolverABI abi.ABI
	timeout     time.Duration
	closeFn     func()
}

// New creates a Resolver using backend for contract calls.
func New(backend Backend, cfg Config) (*Resolver, error) {
	if cfg.RegistryAddress == "" {
		cfg.RegistryAddress = DefaultRegistryAddress
	}
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("invalid ENS registry address: %s", cfg.RegistryAddress)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	registryABI, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	resolverABI, err := abi.JSON(strings.NewReader(resolverABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse resolver abi: %w", err)
	}

	return &Resolver{
		backend:     backend,
		registry:    common.HexToAddress(cfg.RegistryAddress),
		registryABI: registryABI,
		resolverABI: resolverABI,
		timeout:     cfg.Timeout,
	}, nil
}

// Dial connects to an Ethereum JSON-RPC endpoint and returns a Resolver
// that owns the connection.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Resolver, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	r, err := New(cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	r.closeFn = cli.Close
	return r, nil
}

// Resolve returns the address name points to.
func (r *Resolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	node := NameHash(name)

	resolverAddr, err := r.callAddress(ctx, r.registry, r.registryABI, "resolver", node)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: registry: %w", ErrLookupFailed, err)
	}
	if resolverAddr == (common.Address{}) {
		return common.Address{}, ErrNotRegistered
	}

	addr, err := r.callAddress(ctx, resolverAddr, r.resolverABI, "addr", node)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: resolver: %w", ErrLookupFailed, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrNotRegistered
	}

	return addr, nil
}

func (r *Resolver) callAddress(ctx context.Context, to common.Address, contract abi.ABI, method string, node common.Hash) (common.Address, error) {
	data, err := contract.Pack(method, [32]byte(node))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}

	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return addr, nil
}

// Ping checks that the RPC endpoint answers.
func (r *Resolver) Ping(ctx context.Context) error {
	_, err := r.backend.BlockNumber(ctx)
	return err
}

// Close releases the RPC connection if the resolver owns one.
func (r *Resolver) Close() error {
	if r.closeFn != nil {
		r.closeFn()
	}
	return nil
}
