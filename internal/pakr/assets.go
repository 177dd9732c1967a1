package pakr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// AssetResult reports one derived-asset regeneration pass.
type AssetResult struct {
	Success bool
	// Packed lists groups whose outputs were regenerated.
	Packed []string
	// Skipped lists groups that were already up to date.
	Skipped []string
	// Failed lists groups whose packer run failed.
	Failed []string
	// Orphans lists deleted outputs (relative paths) whose group is gone.
	Orphans []string
	// Log is the consolidated diagnostic output, grouped per asset group.
	Log []string
}

// AssetCoordinator keeps packed-binary and preview-image outputs in sync with
// the editable source groups under the unpacked-sources folder. Each group
// owns exactly one output of each kind, named after the group folder.
type AssetCoordinator struct {
	cfg    RunConfig
	packer Packer
	logger Logger
}

// NewAssetCoordinator creates a coordinator for the given configuration.
func NewAssetCoordinator(cfg RunConfig, packer Packer, logger Logger) *AssetCoordinator {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &AssetCoordinator{cfg: cfg, packer: packer, logger: logger}
}

// Regenerate deletes outputs whose group disappeared, then repacks every group
// with changed sources or a missing output. Groups are processed in parallel;
// one failing group does not stop the others but fails the result.
//
// An error is returned only when the folders themselves cannot be read.
func (c *AssetCoordinator) Regenerate(changes *ChangeSet) (*AssetResult, error) {
	a := c.cfg.Assets
	result := &AssetResult{Success: true}
	if a.UnpackedDir == "" {
		return result, nil
	}

	groups, err := listGroups(filepath.Join(c.cfg.Root, a.UnpackedDir))
	if err != nil {
		return nil, fmt.Errorf("listing asset groups: %w", err)
	}

	orphans, err := c.removeOrphans(groups)
	if err != nil {
		return nil, err
	}
	result.Orphans = orphans

	if len(groups) == 0 {
		result.Log = append(result.Log, "nothing packed")
		return result, nil
	}

	agg := newAssetAggregator()
	workers := a.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, name := range groups {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processGroup(name, changes, agg)
		}()
	}
	wg.Wait()

	agg.fill(result)
	if len(result.Packed) == 0 && len(result.Failed) == 0 {
		result.Log = append(result.Log, "nothing packed")
	}
	return result, nil
}

// processGroup runs on a worker goroutine. It must only touch the group's own
// files and report through agg.
func (c *AssetCoordinator) processGroup(name string, changes *ChangeSet, agg *assetAggregator) {
	a := c.cfg.Assets
	packedRel := filepath.Join(a.PackedDir, name+a.PackedExt)
	packedPath := filepath.Join(c.cfg.Root, packedRel)
	previewPath := filepath.Join(c.cfg.Root, a.PreviewDir, name+a.PreviewExt)

	changed := changes.Touches(NormalizePath("", filepath.Join(a.UnpackedDir, name)))
	if !changed && fileExists(packedPath) && fileExists(previewPath) {
		agg.skip(name)
		return
	}

	// The two outputs are always regenerated together.
	for _, p := range []string{packedPath, previewPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			agg.fail(name, []string{fmt.Sprintf("removing stale output %s: %v", p, err)})
			return
		}
	}

	for _, dir := range []string{filepath.Dir(packedPath), filepath.Dir(previewPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			agg.fail(name, []string{fmt.Sprintf("creating output directory: %v", err)})
			return
		}
	}

	source := filepath.Join(c.cfg.Root, a.UnpackedDir, name)
	c.logger.Debug("packing asset group", "group", name, "dest", packedRel)
	res, err := c.packer.Pack(c.cfg.Root, packedRel, source)
	if err != nil {
		c.logger.Error("asset packer failed to run", "group", name, "error", err)
		agg.fail(name, []string{err.Error()})
		return
	}

	switch res.Status {
	case PackOK:
		c.logger.Info("asset group packed", "group", name)
		agg.packed(name, res.Output)
	case PackNoOutput:
		c.logger.Warn("asset packer produced no output", "group", name, "exit_code", res.ExitCode)
		agg.noOutput(name, res.ExitCode, res.Output)
	default:
		c.logger.Error("asset packer reported an error", "group", name, "exit_code", res.ExitCode)
		agg.fail(name, res.Output)
	}
}

// removeOrphans deletes outputs of both kinds that have no matching group.
func (c *AssetCoordinator) removeOrphans(groups []string) ([]string, error) {
	a := c.cfg.Assets
	live := make(map[string]bool, len(groups))
	for _, g := range groups {
		live[g] = true
	}

	var removed []string
	for _, kind := range []struct{ dir, ext string }{
		{a.PackedDir, a.PackedExt},
		{a.PreviewDir, a.PreviewExt},
	} {
		outputs, err := listOutputs(filepath.Join(c.cfg.Root, kind.dir), kind.ext)
		if err != nil {
			return nil, fmt.Errorf("listing outputs in %s: %w", kind.dir, err)
		}
		for _, name := range outputs {
			if live[name] {
				continue
			}
			rel := filepath.Join(kind.dir, name+kind.ext)
			if err := os.Remove(filepath.Join(c.cfg.Root, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("removing orphaned output %s: %w", rel, err)
			}
			c.logger.Info("orphaned output removed", "path", rel)
			removed = append(removed, NormalizePath("", rel))
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// listGroups returns the names of the subfolders of dir, sorted.
// A missing dir has no groups.
func listGroups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var groups []string
	for _, e := range entries {
		if e.IsDir() {
			groups = append(groups, e.Name())
		}
	}
	return groups, nil
}

// listOutputs returns the base names (without ext) of the regular files in
// dir carrying ext.
func listOutputs(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// assetAggregator collects per-group outcomes from concurrent workers.
type assetAggregator struct {
	ok atomic.Bool

	mu           sync.Mutex
	logs         map[string][]string
	packedGroups []string
	skipped      []string
	failed       []string
}

func newAssetAggregator() *assetAggregator {
	agg := &assetAggregator{logs: make(map[string][]string)}
	agg.ok.Store(true)
	return agg
}

func (a *assetAggregator) skip(group string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skipped = append(a.skipped, group)
}

func (a *assetAggregator) packed(group string, output []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.packedGroups = append(a.packedGroups, group)
	a.logs[group] = append(a.logs[group], fmt.Sprintf("%s: packed", group))
	a.appendOutput(group, output)
}

func (a *assetAggregator) noOutput(group string, exitCode int, output []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs[group] = append(a.logs[group], fmt.Sprintf("%s: packer exited with %d, nothing produced", group, exitCode))
	a.appendOutput(group, output)
}

func (a *assetAggregator) fail(group string, output []string) {
	a.ok.Store(false)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, group)
	a.logs[group] = append(a.logs[group], fmt.Sprintf("%s: failed", group))
	a.appendOutput(group, output)
}

// appendOutput must be called with mu held.
func (a *assetAggregator) appendOutput(group string, output []string) {
	for _, line := range output {
		a.logs[group] = append(a.logs[group], "  "+line)
	}
}

// fill copies the aggregated outcome into r. Call only after all workers
// have returned.
func (a *assetAggregator) fill(r *AssetResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r.Success = a.ok.Load()
	r.Packed = sortedCopy(a.packedGroups)
	r.Skipped = sortedCopy(a.skipped)
	r.Failed = sortedCopy(a.failed)

	groups := make([]string, 0, len(a.logs))
	for g := range a.logs {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		r.Log = append(r.Log, a.logs[g]...)
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
