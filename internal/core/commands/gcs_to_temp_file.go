// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file defines the command that downloads a Cloud Storage object to a
// local temp file so that ffmpeg can read it.
//
// Logic Flow:
//  1. Read the cloud.GCSObject from the input parameter.
//  2. Stream the object into a new temp file with io.Copy.
//  3. Track the temp file on the context; it is removed when the context is
//     closed, whatever the outcome of later commands.
//  4. Output the local path.

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
)

// GCSToTempFile downloads a GCS object to the local filesystem.
type GCSToTempFile struct {
	cor.BaseCommand
	client         *storage.Client // The GCS client for interacting with the storage service.
	tempFilePrefix string          // A prefix for the temp file name (e.g., "ingest-").
}

func NewGCSToTempFile(name string, client *storage.Client, tempFilePrefix string) *GCSToTempFile {
	return &GCSToTempFile{
		BaseCommand:    *cor.NewBaseCommand(name),
		client:         client,
		tempFilePrefix: tempFilePrefix,
	}
}

func (c *GCSToTempFile) Execute(context cor.Context) {
	msg, ok := cor.Get[*cloud.GCSObject](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a GCS object in %s", c.GetInputParam()))
		return
	}

	reader, err := c.client.Bucket(msg.Bucket).Object(msg.Name).NewReader(context.GetContext())
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to create GCS reader for gs://%s/%s: %w", msg.Bucket, msg.Name, err))
		return
	}
	defer func(reader *storage.Reader) {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close GCS reader", "error", err)
		}
	}(reader)

	// Keep the extension; ffmpeg probes some containers by name.
	tempFile, err := os.CreateTemp("", c.tempFilePrefix+"*"+filepath.Ext(msg.Name))
	if err != nil {
		c.Fail(context, fmt.Errorf("could not create temp file: %w", err))
		return
	}
	context.AddTempFile(tempFile.Name())

	written, err := CopyAndClose(tempFile, reader)
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to copy gs://%s/%s after %d bytes: %w", msg.Bucket, msg.Name, written, err))
		return
	}

	c.Succeed(context)
	slog.InfoContext(context.GetContext(), "downloaded object",
		"object", fmt.Sprintf("gs://%s/%s", msg.Bucket, msg.Name), "path", tempFile.Name(), "bytes", written)
	context.Add(c.GetOutputParam(), tempFile.Name())
}

// CopyAndClose copies src into dst and closes dst. A failed close is
// reported like a failed write, since buffered bytes may not have reached
// the file.
func CopyAndClose(dst io.WriteCloser, src io.Reader) (int64, error) {
	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close failed: %w", closeErr)
	}
	return written, err
}
