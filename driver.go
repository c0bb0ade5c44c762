// driver.go - composes the XBE codec, section builder, symbol resolver,
// relocation evaluator, and patch applicator into one link.
package main

import "context"

// Link performs one full static link: it loads every input named by cfg,
// combines mod sections, assigns them addresses in base, resolves symbols
// across patches and mods, relocates the mod sections, applies each patch
// in configuration order, and appends the new sections to base. base is
// mutated in place and also returned for convenience.
//
// ctx is only checked between loading each input file; the link itself has
// no internal suspension points (see the concurrency model notes).
func Link(ctx context.Context, base *XbeImage, cfg *Configuration, logger *Logger) (*XbeImage, error) {
	if logger == nil {
		logger = defaultLogger
	}

	mods, err := loadAll(ctx, cfg.ModFiles, logger)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Patches {
		obj, err := loadOne(ctx, cfg.Patches[i].PatchfilePath, logger)
		if err != nil {
			return nil, err
		}
		cfg.Patches[i].patchObject = obj
	}

	sectionMap, err := buildSectionMap(mods)
	if err != nil {
		return nil, err
	}
	sectionMap.assignAddresses(base)

	symbols, err := buildSymbolTable(sectionMap, cfg.Patches, mods)
	if err != nil {
		return nil, err
	}

	if err := processRelocations(sectionMap, symbols, mods, logger); err != nil {
		return nil, err
	}

	for i := range cfg.Patches {
		if err := applyPatch(&cfg.Patches[i], base, symbols, logger); err != nil {
			return nil, err
		}
	}

	sectionMap.finalize(base)

	return base, nil
}

func loadAll(ctx context.Context, paths []string, logger *Logger) ([]*ObjectFile, error) {
	objs := make([]*ObjectFile, 0, len(paths))
	for _, p := range paths {
		obj, err := loadOne(ctx, p, logger)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func loadOne(ctx context.Context, path string, logger *Logger) (*ObjectFile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	logger.Debugf("loading object file %s", path)
	return LoadObjectFile(path)
}
