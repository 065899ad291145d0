// Package extractor prepares validation datasets: it decodes a source video
// into the <root>/<clip>/*.png layout the dataset loader expects.
package extractor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExtractFrames decodes every frame of videoPath into <root>/<clip>/ as
// numbered PNGs, where clip is the video file's stem. Extraction is skipped
// when frames are already present, so re-running dataset prep is cheap.
func ExtractFrames(logger *slog.Logger, videoPath, root string) error {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return fmt.Errorf("video file does not exist at path: %q", videoPath)
	}

	clip := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	clipDir := filepath.Join(root, clip)

	// Check if frames already exist for this clip
	if entries, err := os.ReadDir(clipDir); err == nil && len(entries) > 0 {
		frameCount := 0
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".png") {
				frameCount++
			}
		}
		if frameCount > 0 {
			logger.Info("frames already extracted, skipping",
				"clip", clip, "frames", frameCount)
			return nil
		}
	}

	if err := os.MkdirAll(clipDir, 0755); err != nil {
		return fmt.Errorf("failed to create clip directory %q: %w", clipDir, err)
	}

	logger.Info("extracting frames", "video", videoPath, "dir", clipDir)

	ffmpegCommand := exec.Command(
		"ffmpeg",
		"-i", videoPath,
		filepath.Join(clipDir, "frame_%08d.png"),
	)

	// Capture output for better error reporting
	output, err := ffmpegCommand.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	logger.Info("extracted frames", "clip", clip)
	return nil
}
