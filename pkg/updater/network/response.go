package network

import (
	"encoding/json"
	"io"
)

// Patch describes a patch payload offered by the server.
type Patch struct {
	// DownloadURL is where the payload can be fetched from.
	DownloadURL string `json:"download_url"`
	// Version is an opaque version identifier.
	Version string `json:"version"`
	// Hash is the digest of the payload, e.g. "sha256:<hex>". Optional.
	Hash string `json:"hash,omitempty"`
}

// PatchCheckResponse is the server's answer to a patch check.
type PatchCheckResponse struct {
	PatchAvailable bool   `json:"patch_available"`
	Patch          *Patch `json:"patch,omitempty"`
}

// CheckResult is either PatchAvailable or NoUpdate.
type CheckResult interface {
	isCheckResult()
}

// PatchAvailable carries the patch that should be installed.
type PatchAvailable struct {
	Patch Patch
}

// NoUpdate means the server has nothing to install.
type NoUpdate struct{}

func (PatchAvailable) isCheckResult() {}
func (NoUpdate) isCheckResult()       {}

// Result converts the response into a CheckResult.
// A response without a patch descriptor is NoUpdate, regardless of PatchAvailable.
func (r PatchCheckResponse) Result() CheckResult {
	if r.Patch == nil {
		return NoUpdate{}
	}
	return PatchAvailable{Patch: *r.Patch}
}

// NewPatchCheckResponse builds a response offering p.
func NewPatchCheckResponse(p Patch) PatchCheckResponse {
	return PatchCheckResponse{
		PatchAvailable: true,
		Patch:          &p,
	}
}

// ParseCheckResponse decodes a JSON patch check response.
func ParseCheckResponse(r io.Reader) (PatchCheckResponse, error) {
	var res PatchCheckResponse
	err := json.NewDecoder(r).Decode(&res)
	return res, err
}
