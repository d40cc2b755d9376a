package ctlplane

import (
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"strings"
	"sync"

	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/rules"
)

// Client is the RPC client for communicating with the control plane
type Client struct {
	socketPath string
	client     *rpc.Client
	mu         sync.RWMutex
}

// NewClient connects to the control plane at socketPath.
func NewClient(socketPath string) (*Client, error) {
	client, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane at %s: %w", socketPath, err)
	}
	return &Client{socketPath: socketPath, client: client}, nil
}

// Close closes the RPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// call wraps the RPC call with reconnection logic
func (c *Client) call(method string, args any, reply any) error {
	serviceMethod := ServiceName + "." + method

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	err := client.Call(serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	if isConnectionError(err) {
		// Pass the failed client so concurrent callers reconnect once
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}

		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		err = client.Call(serviceMethod, args, reply)
	}
	return remoteError(err)
}

// reconnect attempts to establish a new connection
func (c *Client) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Someone else already reconnected while we waited
	if c.client != oldClient && c.client != nil {
		return nil
	}

	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.socketPath)
	if err != nil {
		c.client = nil
		return fmt.Errorf("failed to reconnect to control plane: %w", err)
	}
	c.client = client
	return nil
}

func isConnectionError(err error) bool {
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection")
}

// RemoteError is an error returned by the daemon. net/rpc carries only the
// text, so known sentinels are restored for errors.Is.
type RemoteError struct {
	Msg string
	Err error
}

func (e *RemoteError) Error() string { return e.Msg }
func (e *RemoteError) Unwrap() error { return e.Err }

var remoteSentinels = []error{
	rules.ErrNotManaged,
	rules.ErrCapacity,
	rules.ErrClosed,
	firewall.ErrRuleNotFound,
	fwdata.ErrNoConditions,
	fwdata.ErrParse,
}

func remoteError(err error) error {
	var se rpc.ServerError
	if !errors.As(err, &se) {
		return err
	}
	msg := string(se)
	for _, sentinel := range remoteSentinels {
		if strings.Contains(msg, sentinel.Error()) {
			return &RemoteError{Msg: msg, Err: sentinel}
		}
	}
	return &RemoteError{Msg: msg}
}

// AddRule sends a descriptor to the daemon.
func (c *Client) AddRule(d *fwdata.Descriptor, opts rules.AddOptions) (*AddRuleReply, error) {
	wire, err := d.MarshalBinary()
	if err != nil {
		return nil, err
	}
	args := &AddRuleArgs{
		Descriptor: wire,
		Weight:     opts.Weight,
		Permit:     opts.Permit,
		Persistent: opts.Persistent,
	}
	var reply AddRuleReply
	if err := c.call("AddRule", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ListRules returns the indexed rules.
func (c *Client) ListRules() ([]RuleInfo, error) {
	var reply ListRulesReply
	if err := c.call("ListRules", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Rules, nil
}

// RemoveRule deletes a managed rule by ID.
func (c *Client) RemoveRule(id uint64) error {
	return c.call("RemoveRule", &RemoveRuleArgs{ID: id}, &Empty{})
}

// RemoveAll deletes every managed rule.
func (c *Client) RemoveAll() (int, error) {
	var reply RemoveAllReply
	err := c.call("RemoveAll", &Empty{}, &reply)
	return reply.Removed, err
}

// RemoveUnknown deletes leftover rules from incompatible versions.
func (c *Client) RemoveUnknown() (int, error) {
	var reply RemoveUnknownReply
	err := c.call("RemoveUnknown", &Empty{}, &reply)
	return reply.Removed, err
}

// Refresh rebuilds the daemon's index from the firewall.
func (c *Client) Refresh() (*RefreshReply, error) {
	var reply RefreshReply
	if err := c.call("Refresh", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetStatus returns the daemon status.
func (c *Client) GetStatus() (*Status, error) {
	var reply GetStatusReply
	if err := c.call("GetStatus", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply.Status, nil
}

// GetHistory queries the lifecycle journal.
func (c *Client) GetHistory(args *GetHistoryArgs) (*GetHistoryReply, error) {
	var reply GetHistoryReply
	if err := c.call("GetHistory", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetLogs returns buffered daemon logs.
func (c *Client) GetLogs(args *GetLogsArgs) (*GetLogsReply, error) {
	var reply GetLogsReply
	if err := c.call("GetLogs", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
