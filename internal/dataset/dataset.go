package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/framelab/sreval/internal/imageio"
	"github.com/framelab/sreval/internal/metric"
)

// Item is one validation sample: a low-quality frame, its optional
// ground-truth counterpart, and the bookkeeping needed to place its scores.
type Item struct {
	// LQ is the low-quality input frame.
	LQ *metric.Image

	// GT is the ground-truth frame, nil when the dataset has no references.
	GT *metric.Image

	// Folder is the clip this frame belongs to.
	Folder string

	// Index is the "frame_idx/max_idx" position of the frame in its folder.
	Index string

	// LQPath is the source path of the low-quality frame.
	LQPath string
}

// Dataset is the collaborator the validation coordinator iterates.
type Dataset interface {
	// Name is the display name used in logs and save paths.
	Name() string

	Len() int

	// Item loads the sample at index i.
	Item(i int) (Item, error)

	// FolderCounts maps each folder to its frame count.
	FolderCounts() map[string]int
}

type record struct {
	folder string
	index  string
	lqPath string
	gtPath string
}

// DirDataset reads frames from <lqRoot>/<folder>/*.png with optional
// ground-truth frames mirrored under gtRoot. Frames are ordered by file name
// within each folder, folders by name.
type DirDataset struct {
	name    string
	records []record
	counts  map[string]int
}

// Open scans lqRoot and builds the frame index. gtRoot may be empty.
func Open(name, lqRoot, gtRoot string) (*DirDataset, error) {
	entries, err := os.ReadDir(lqRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root %q: %w", lqRoot, err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("no clip folders found under %q", lqRoot)
	}
	sort.Strings(folders)

	ds := &DirDataset{name: name, counts: make(map[string]int)}
	for _, folder := range folders {
		frames, err := listFrames(filepath.Join(lqRoot, folder))
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			continue
		}
		ds.counts[folder] = len(frames)
		for i, frame := range frames {
			rec := record{
				folder: folder,
				index:  fmt.Sprintf("%d/%d", i, len(frames)),
				lqPath: filepath.Join(lqRoot, folder, frame),
			}
			if gtRoot != "" {
				rec.gtPath = filepath.Join(gtRoot, folder, frame)
			}
			ds.records = append(ds.records, rec)
		}
	}
	if len(ds.records) == 0 {
		return nil, fmt.Errorf("no frames found under %q", lqRoot)
	}
	return ds, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip folder %q: %w", dir, err)
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".png") {
			frames = append(frames, e.Name())
		}
	}
	sort.Strings(frames)
	return frames, nil
}

func (ds *DirDataset) Name() string { return ds.name }

func (ds *DirDataset) Len() int { return len(ds.records) }

func (ds *DirDataset) Item(i int) (Item, error) {
	rec := ds.records[i]
	lq, err := imageio.ReadPNG(rec.lqPath)
	if err != nil {
		return Item{}, err
	}
	item := Item{
		LQ:     lq,
		Folder: rec.folder,
		Index:  rec.index,
		LQPath: rec.lqPath,
	}
	if rec.gtPath != "" {
		gt, err := imageio.ReadPNG(rec.gtPath)
		if err != nil {
			imageio.Recycle(lq)
			return Item{}, err
		}
		item.GT = gt
	}
	return item, nil
}

func (ds *DirDataset) FolderCounts() map[string]int {
	out := make(map[string]int, len(ds.counts))
	for folder, n := range ds.counts {
		out[folder] = n
	}
	return out
}
