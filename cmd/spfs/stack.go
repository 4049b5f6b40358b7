package main

import (
	"context"
	"fmt"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
)

// resolveStack reads the object at d and returns its layer stack:
// a Platform's own Stack, or a single-layer Stack wrapping d itself when
// it is a Layer.
func resolveStack(ctx context.Context, repo storage.Repository, d encoding.Digest) (graph.Stack, error) {
	obj, err := repo.ReadObject(ctx, d)
	if err != nil {
		return graph.Stack{}, err
	}
	switch o := obj.(type) {
	case graph.Platform:
		return o.Stack, nil
	case graph.Layer:
		return graph.NewStack(d), nil
	default:
		return graph.Stack{}, spfserr.New(spfserr.KindInvariant, "not_a_stack", fmt.Sprintf("object %s is neither a platform nor a layer", d))
	}
}

// manifestsForStack collects, bottom-to-top, the manifest of every layer
// in stack that has one (an annotation-only layer contributes nothing).
func manifestsForStack(ctx context.Context, repo storage.Repository, stack graph.Stack) ([]graph.Manifest, error) {
	var manifests []graph.Manifest
	for _, layerDigest := range stack.ToBottomUp() {
		obj, err := repo.ReadObject(ctx, layerDigest)
		if err != nil {
			return nil, err
		}
		layer, ok := obj.(graph.Layer)
		if !ok {
			return nil, spfserr.New(spfserr.KindCorruption, "not_a_layer", fmt.Sprintf("stack entry %s is not a layer", layerDigest))
		}
		if !layer.HasManifest() {
			continue
		}
		manifestObj, err := repo.ReadObject(ctx, layer.Manifest)
		if err != nil {
			return nil, err
		}
		m, ok := manifestObj.(graph.Manifest)
		if !ok {
			return nil, spfserr.New(spfserr.KindCorruption, "not_a_manifest", fmt.Sprintf("layer %s's manifest object %s is not a manifest", layerDigest, layer.Manifest))
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
