/*
Copyright 2025 Clear Transcript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package media probes and transcodes audio with ffprobe and ffmpeg.
// Recognition accepts OGG/Opus, so every incoming file is transcoded before
// upload.
package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeDuration returns the duration of the media at path, rounded up to
// whole seconds. Pricing charges for a started second, so rounding is
// always up.
func ProbeDuration(ctx context.Context, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %q: %w", path, err)
	}

	durationFloat, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration for %q: %w", path, err)
	}
	if durationFloat <= 0 {
		return 0, fmt.Errorf("media at %q has no duration", path)
	}

	return int64(math.Ceil(durationFloat)), nil
}

// ProbeChannels returns the channel count of the first audio stream.
func ProbeChannels(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %q: %w", path, err)
	}

	channels, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable channel count for %q: %w", path, err)
	}
	if channels < 1 {
		return 0, fmt.Errorf("media at %q has no audio stream", path)
	}

	return channels, nil
}

// TranscodeToOgg converts the media at src into an OGG/Opus file at dst.
// When progressPath is non-empty ffmpeg writes its key=value progress stream
// there, which ConversionProgress can read while the transcode runs.
func TranscodeToOgg(ctx context.Context, src, dst, progressPath string) error {
	args := []string{"-y", "-i", src, "-vn", "-acodec", "libopus"}
	if progressPath != "" {
		args = append(args, "-progress", progressPath)
	}
	args = append(args, dst)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed for %q: %v, stderr: %s", src, err, stderr.String())
	}
	return nil
}

// ConversionProgress reads an ffmpeg -progress file and returns how far the
// transcode has gone, in percent of durationSeconds, clamped to [0, 100].
// A missing or empty progress file reads as zero progress.
func ConversionProgress(progressPath string, durationSeconds int64) int {
	if durationSeconds <= 0 {
		return 0
	}
	data, err := os.ReadFile(progressPath)
	if err != nil {
		return 0
	}
	return parseProgress(string(data), durationSeconds)
}

// parseProgress extracts the last out_time_us value from the ffmpeg
// progress stream. ffmpeg appends a block per update, so the last value
// wins.
func parseProgress(stream string, durationSeconds int64) int {
	var outTimeUs int64
	for _, line := range strings.Split(stream, "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "out_time_us=")
		if !ok {
			continue
		}
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			outTimeUs = parsed
		}
	}

	percent := int(outTimeUs / (durationSeconds * 10_000))
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// Preparer is the ffmpeg-backed probing and transcoding seam the service
// consumes.
type Preparer struct{}

func (Preparer) ProbeDuration(ctx context.Context, path string) (int64, error) {
	return ProbeDuration(ctx, path)
}

func (Preparer) ProbeChannels(ctx context.Context, path string) (int, error) {
	return ProbeChannels(ctx, path)
}

func (Preparer) TranscodeToOgg(ctx context.Context, src, dst, progressPath string) error {
	return TranscodeToOgg(ctx, src, dst, progressPath)
}
