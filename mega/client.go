package mega

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Client is the anonymous public-link MEGA client: C2 (link parsing) + C3
// (transport) + C4 (tree building), the public-download generalization of
// go-mega's Mega struct — that type also bundled a *config and an FS, but
// additionally carried authenticated-session state (sid, master key, user
// handle) this client has no use for, since login is out of scope (spec §1).
type Client struct {
	transport *Transport
	log       zerolog.Logger
}

// NewClient builds a Client from a Config.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	t, err := NewTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Client{transport: t, log: log}, nil
}

// Transport exposes the underlying C3 transport so the download engine (C6)
// can issue ranged GETs over the same HTTP client. StreamRange makes a
// single attempt; range retries are the caller's job.
func (c *Client) Transport() *Transport {
	return c.transport
}

// FetchPublicNodes fetches and decrypts the node tree behind a MEGA public
// URL (spec §4.4). It dispatches to the file or folder path depending on the
// parsed link kind.
func (c *Client) FetchPublicNodes(ctx context.Context, rawurl string) (*NodeTree, error) {
	link, err := ParsePublicLink(rawurl)
	if err != nil {
		return nil, err
	}

	switch link.Kind {
	case LinkFile:
		return c.fetchPublicFile(ctx, link)
	case LinkFolder:
		return c.fetchPublicFolder(ctx, link)
	default:
		return nil, fmt.Errorf("%w: unknown link kind", EINVALIDLINK)
	}
}

// fetchPublicFile calls Download once to get attrs + size for a single-file
// public link, and unwraps its 32-byte URL key (spec §4.2 "Key unwrapping",
// file link case).
func (c *Client) fetchPublicFile(ctx context.Context, link PublicLink) (*NodeTree, error) {
	key := append([]byte(nil), link.Key...)
	if err := unmergeKeyMac(key); err != nil {
		return nil, err
	}
	aesKey := key[:16]
	aesIV := key[16:24]

	req := newDownloadRequestByPublicHandle(link.NodeID)
	reqBody, err := json.Marshal([]downloadRequest{req})
	if err != nil {
		return nil, err
	}

	raw, err := c.transport.PostBatch(ctx, "", reqBody)
	if err != nil {
		return nil, err
	}

	var resp [1]downloadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", EBADRESP, err)
	}

	name, err := decryptAttr(aesKey, resp[0].At)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Handle:     link.NodeID,
		Kind:       KindFile,
		Name:       name,
		Size:       resp[0].S,
		AESKey:     aesKey,
		AESIV:      aesIV,
		RootHandle: link.NodeID,
	}

	return newNodeTree([]*Node{node}), nil
}

// fetchPublicFolder calls FetchNodes for a public folder link and unwraps
// every child node's key using the 16-byte folder root key (spec §4.2 "Key
// unwrapping", folder link case; spec §4.4 tree-build steps).
func (c *Client) fetchPublicFolder(ctx context.Context, link PublicLink) (*NodeTree, error) {
	rootBlock, err := aes.NewCipher(link.Key)
	if err != nil {
		return nil, err
	}

	req := newFetchNodesRequest()
	reqBody, err := json.Marshal([]fetchNodesRequest{req})
	if err != nil {
		return nil, err
	}

	raw, err := c.transport.PostBatch(ctx, link.NodeID, reqBody)
	if err != nil {
		return nil, err
	}

	var resp [1]fetchNodesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", EBADRESP, err)
	}

	nodes := make([]*Node, 0, len(resp[0].F))
	for _, wire := range resp[0].F {
		node, ok, err := decodeFolderMember(wire, rootBlock, link.NodeID)
		if err != nil {
			c.log.Warn().Err(err).Str("handle", wire.H).Msg("mega: skipping undecodable folder member")
			continue
		}
		if !ok {
			continue
		}
		nodes = append(nodes, node)
	}

	return newNodeTree(nodes), nil
}

// decodeFolderMember decrypts one FetchNodes entry's key with the folder
// root key and builds a Node. ok is false (no error) for node kinds/keys the
// spec says to skip silently (unknown kind, RSA-wrapped key).
func decodeFolderMember(wire fileNodeWire, rootBlock cipher.Block, rootHandle string) (*Node, bool, error) {
	var kind NodeKind
	switch wire.T {
	case 0:
		kind = KindFile
	case 1:
		kind = KindFolder
	default:
		return nil, false, nil
	}

	if wire.K == "" {
		return nil, false, nil
	}

	wantLen := 32
	if kind == KindFolder {
		wantLen = 16
	}

	var decoded []byte
	found := false
	for _, entry := range strings.Split(wire.K, "/") {
		userHandle, b64Part, ok := strings.Cut(entry, ":")
		if !ok || userHandle == "" {
			continue
		}
		if len(b64Part) >= 44 {
			// RSA-wrapped key; not supported by this core (spec §4.2).
			continue
		}
		d, err := base64urlDecode(b64Part)
		if err != nil || len(d) != wantLen {
			continue
		}
		decoded = d
		found = true
		break
	}
	if !found {
		return nil, false, nil
	}

	blockDecrypt(rootBlock, decoded)

	var aesKey, aesIV []byte
	if kind == KindFile {
		if err := unmergeKeyMac(decoded); err != nil {
			return nil, false, err
		}
		aesKey = decoded[:16]
		aesIV = decoded[16:24]
	} else {
		aesKey = decoded[:16]
	}

	var size int64
	if wire.S != nil {
		size = *wire.S
	}

	name, err := decryptAttr(aesKey, wire.A)
	if err != nil {
		return nil, false, err
	}

	return &Node{
		Handle:       wire.H,
		ParentHandle: wire.P,
		Kind:         kind,
		Name:         name,
		Size:         size,
		AESKey:       aesKey,
		AESIV:        aesIV,
		RootHandle:   rootHandle,
	}, true, nil
}

// ResolveDownloadURL calls the Download (`g`) message for a file that is a
// member of a folder tree (node.Handle != node.RootHandle) or a standalone
// public file link (node.Handle == node.RootHandle), returning the signed
// download base URL and the server-declared size (spec §4.6 step 1).
func (c *Client) ResolveDownloadURL(ctx context.Context, node *Node) (string, int64, error) {
	var req downloadRequest
	var folderID string
	if node.Handle == node.RootHandle {
		req = newDownloadRequestByPublicHandle(node.RootHandle)
	} else {
		req = newDownloadRequestByHandle(node.Handle)
		folderID = node.RootHandle
	}

	reqBody, err := json.Marshal([]downloadRequest{req})
	if err != nil {
		return "", 0, err
	}

	raw, err := c.transport.PostBatch(ctx, folderID, reqBody)
	if err != nil {
		return "", 0, err
	}

	var resp [1]downloadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", 0, fmt.Errorf("%w: %v", EBADRESP, err)
	}
	if resp[0].E != 0 {
		return "", 0, parseAPICode(resp[0].E)
	}

	return resp[0].G, resp[0].S, nil
}
