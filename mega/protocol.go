package mega

// Wire types for the MEGA `cs` batch endpoint (spec §4.2). The endpoint
// takes a JSON array of request objects and returns a JSON array of
// responses in the same order, or a bare integer for a batch-level error.

// fetchNodesRequest is `{"a":"f","c":1,"r":1}`.
type fetchNodesRequest struct {
	A string `json:"a"`
	C int    `json:"c"`
	R int    `json:"r"`
}

func newFetchNodesRequest() fetchNodesRequest {
	return fetchNodesRequest{A: "f", C: 1, R: 1}
}

// downloadRequest is `{"a":"g","g":1,"ssl":0|2,"p":...}` for a file public
// link, or the `n` variant for a folder member.
type downloadRequest struct {
	A   string `json:"a"`
	G   int    `json:"g"`
	SSL int    `json:"ssl"`
	P   string `json:"p,omitempty"`
	N   string `json:"n,omitempty"`
}

func newDownloadRequestByPublicHandle(nodeID string) downloadRequest {
	return downloadRequest{A: "g", G: 1, SSL: 0, P: nodeID}
}

func newDownloadRequestByHandle(handle string) downloadRequest {
	return downloadRequest{A: "g", G: 1, SSL: 0, N: handle}
}

// fileNodeWire is one entry of a FetchNodes response's "f" array.
type fileNodeWire struct {
	T int     `json:"t"`
	A string  `json:"a"`
	H string  `json:"h"`
	P string  `json:"p"`
	K string  `json:"k,omitempty"`
	S *int64  `json:"s,omitempty"`
}

// fetchNodesResponse is the decoded response to a FetchNodes request.
type fetchNodesResponse struct {
	F []fileNodeWire `json:"f"`
}

// downloadResponse is the decoded response to a Download request.
type downloadResponse struct {
	G  string `json:"g"`
	S  int64  `json:"s"`
	At string `json:"at"`
	E  int    `json:"e,omitempty"`
}
