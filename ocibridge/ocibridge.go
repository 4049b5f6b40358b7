// Package ocibridge translates a graph.Platform layer stack into an OCI
// image layout directory, for interop with external OCI tooling sitting
// next to SPFS. Grounded in the teacher's own manifest/ocischema package
// (the Manifest/Config/Layers descriptor shape) and its
// opencontainers/image-spec + opencontainers/go-digest dependency pair;
// not present in spec.md, a supplemented feature per SPEC_FULL.md §10.5.
package ocibridge

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/render"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// Result is what one Export call produced.
type Result struct {
	ManifestDigest digest.Digest
	ConfigDigest   digest.Digest
	LayerDigests   []digest.Digest
}

// Export writes stack (bottom-to-top layer digests) from repo into an OCI
// image layout rooted at dir: blobs/sha256/<hex> for the config, each
// layer tar.gz, and the manifest, plus index.json and oci-layout.
func Export(ctx context.Context, repo storage.Repository, strategy encoding.Strategy, stack graph.Stack, dir string) (*Result, error) {
	blobsDir := filepath.Join(dir, "blobs", "sha256")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, err
	}

	var layerDescs []v1.Descriptor
	var diffIDs []digest.Digest
	for _, layerDigest := range stack.ToBottomUp() {
		desc, diffID, err := exportLayer(ctx, repo, strategy, layerDigest, blobsDir)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			continue // an annotation-only layer with no manifest contributes no filesystem diff
		}
		layerDescs = append(layerDescs, *desc)
		diffIDs = append(diffIDs, diffID)
	}

	configDigest, configSize, err := writeConfig(diffIDs, blobsDir)
	if err != nil {
		return nil, err
	}

	manifest := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: v1.MediaTypeImageConfig,
			Digest:    configDigest,
			Size:      configSize,
		},
		Layers: layerDescs,
	}
	manifestDigest, manifestSize, err := writeJSONBlob(manifest, blobsDir)
	if err != nil {
		return nil, err
	}

	index := v1.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageIndex,
		Manifests: []v1.Descriptor{{
			MediaType: v1.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      manifestSize,
		}},
	}
	if err := writeJSONFile(filepath.Join(dir, "index.json"), index); err != nil {
		return nil, err
	}
	if err := writeJSONFile(filepath.Join(dir, "oci-layout"), v1.ImageLayout{Version: v1.ImageLayoutVersion}); err != nil {
		return nil, err
	}

	layerDigests := make([]digest.Digest, len(layerDescs))
	for i, d := range layerDescs {
		layerDigests[i] = d.Digest
	}
	return &Result{ManifestDigest: manifestDigest, ConfigDigest: configDigest, LayerDigests: layerDigests}, nil
}

// exportLayer tars up one layer's manifest (if it has one) and writes the
// gzip-compressed result as a blob, returning its OCI descriptor and the
// uncompressed tar's digest (the OCI "DiffID").
func exportLayer(ctx context.Context, repo storage.Repository, strategy encoding.Strategy, layerDigest encoding.Digest, blobsDir string) (*v1.Descriptor, digest.Digest, error) {
	obj, err := repo.ReadObject(ctx, layerDigest)
	if err != nil {
		return nil, "", err
	}
	layer, ok := obj.(graph.Layer)
	if !ok {
		return nil, "", spfserr.New(spfserr.KindCorruption, "ocibridge_not_a_layer", fmt.Sprintf("object %s referenced from the platform stack is not a layer", layerDigest))
	}
	if !layer.HasManifest() {
		return nil, "", nil
	}
	manifestObj, err := repo.ReadObject(ctx, layer.Manifest)
	if err != nil {
		return nil, "", err
	}
	m, ok := manifestObj.(graph.Manifest)
	if !ok {
		return nil, "", spfserr.New(spfserr.KindCorruption, "ocibridge_not_a_manifest", fmt.Sprintf("layer %s's manifest object %s is not a manifest", layerDigest, layer.Manifest))
	}

	merged, err := render.MergeStack(strategy, []graph.Manifest{m})
	if err != nil {
		return nil, "", err
	}

	tarBytes, err := buildTar(ctx, repo, merged)
	if err != nil {
		return nil, "", err
	}
	diffID := digest.FromBytes(tarBytes)

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(tarBytes); err != nil {
		return nil, "", err
	}
	if err := gw.Close(); err != nil {
		return nil, "", err
	}
	blobDigest := digest.FromBytes(gzBuf.Bytes())
	if err := writeBlob(blobsDir, blobDigest, gzBuf.Bytes()); err != nil {
		return nil, "", err
	}

	return &v1.Descriptor{
		MediaType: v1.MediaTypeImageLayerGzip,
		Digest:    blobDigest,
		Size:      int64(gzBuf.Len()),
	}, diffID, nil
}

// buildTar writes one tar archive of merged's entries, in sorted path
// order so that two renders of the same manifest always produce a
// byte-identical (and so digest-identical) layer tar.
func buildTar(ctx context.Context, repo storage.Repository, merged *tracking.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, p := range merged.Paths() {
		entry, _ := merged.Get(p)
		if err := writeTarEntry(ctx, repo, tw, p, entry); err != nil {
			tw.Close()
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTarEntry(ctx context.Context, repo storage.Repository, tw *tar.Writer, p string, entry tracking.Entry) error {
	mode := fs.FileMode(entry.Mode)

	if entry.Kind == graph.EntryKindTree {
		return tw.WriteHeader(&tar.Header{
			Name:     p + "/",
			Typeflag: tar.TypeDir,
			Mode:     int64(mode.Perm()),
		})
	}

	payload, err := resolveBlobPayload(ctx, repo, entry.Object)
	if err != nil {
		return err
	}

	if mode&fs.ModeSymlink != 0 {
		target, err := readPayloadString(ctx, repo, payload)
		if err != nil {
			return err
		}
		return tw.WriteHeader(&tar.Header{
			Name:     p,
			Typeflag: tar.TypeSymlink,
			Linkname: target,
			Mode:     int64(mode.Perm()),
		})
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:     p,
		Typeflag: tar.TypeReg,
		Size:     int64(entry.Size),
		Mode:     int64(mode.Perm()),
	}); err != nil {
		return err
	}
	r, err := repo.OpenPayload(ctx, payload)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(tw, r)
	return err
}

// resolveBlobPayload follows a Blob-kind entry's Object digest to the
// graph.Blob it points at and returns its Payload digest: an entry's
// Object is the digest of a standalone Blob object, never the raw
// payload digest directly.
func resolveBlobPayload(ctx context.Context, repo storage.Repository, d encoding.Digest) (encoding.Digest, error) {
	obj, err := repo.ReadObject(ctx, d)
	if err != nil {
		return encoding.NullDigest, err
	}
	blob, ok := obj.(graph.Blob)
	if !ok {
		return encoding.NullDigest, spfserr.New(spfserr.KindCorruption, "ocibridge_not_a_blob", fmt.Sprintf("tree entry object %s is not a blob", d))
	}
	return blob.Payload, nil
}

func readPayloadString(ctx context.Context, repo storage.Repository, d encoding.Digest) (string, error) {
	r, err := repo.OpenPayload(ctx, d)
	if err != nil {
		return "", err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeConfig(diffIDs []digest.Digest, blobsDir string) (digest.Digest, int64, error) {
	cfg := v1.Image{
		Platform: v1.Platform{
			Architecture: "amd64",
			OS:           "linux",
		},
		RootFS: v1.RootFS{
			Type:    "layers",
			DiffIDs: diffIDs,
		},
	}
	return writeJSONBlob(cfg, blobsDir)
}

func writeJSONBlob(v interface{}, blobsDir string) (digest.Digest, int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", 0, err
	}
	d := digest.FromBytes(data)
	if err := writeBlob(blobsDir, d, data); err != nil {
		return "", 0, err
	}
	return d, int64(len(data)), nil
}

func writeBlob(blobsDir string, d digest.Digest, data []byte) error {
	path := filepath.Join(blobsDir, d.Encoded())
	tmp, err := os.CreateTemp(blobsDir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
