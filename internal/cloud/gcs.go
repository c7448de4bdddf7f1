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

// Package cloud contains data structures and utilities for interacting with Google Cloud services.
// This file defines the Cloud Storage notification payload and the simplified
// object reference passed between ingestion commands.
package cloud

import (
	"fmt"
	"path"
	"strings"
)

// VideoIdMetadataKey is the object metadata key naming the target video id.
const VideoIdMetadataKey = "video_id"

// GetGCSObjectName returns the chain context key under which the current
// GCSObject is stored.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification maps the JSON payload GCS publishes to Pub/Sub when
// an object is finalized in a watched bucket.
type GCSPubSubNotification struct {
	Kind        string            `json:"kind"`        // Typically "storage#object".
	ID          string            `json:"id"`          // Bucket, name and generation.
	Name        string            `json:"name"`        // The name of the object within the bucket.
	Bucket      string            `json:"bucket"`      // The name of the bucket containing the object.
	Generation  string            `json:"generation"`  // The generation number of the object's content.
	ContentType string            `json:"contentType"` // The MIME type of the object's content.
	TimeCreated string            `json:"timeCreated"` // The creation time of the object.
	Size        string            `json:"size"`        // The size of the object in bytes.
	MetaData    map[string]string `json:"metadata"`    // User-provided metadata, if any.
}

// ToObject reduces the notification to the fields the ingestion chain needs.
func (n *GCSPubSubNotification) ToObject() (*GCSObject, error) {
	if n.Bucket == "" || n.Name == "" {
		return nil, fmt.Errorf("notification %q has no bucket or object name", n.ID)
	}
	return &GCSObject{Bucket: n.Bucket, Name: n.Name, MIMEType: n.ContentType, Metadata: n.MetaData}, nil
}

// GCSObject is a lightweight reference to a Cloud Storage object.
type GCSObject struct {
	Bucket   string            // The name of the GCS bucket.
	Name     string            // The name of the object.
	MIMEType string            // The MIME type of the object (e.g., "video/mp4").
	Metadata map[string]string // Custom object metadata.
}

// VideoId returns the video the object belongs to: the video_id metadata
// value when present, otherwise the object's base name without extension.
func (o *GCSObject) VideoId() string {
	if id := strings.TrimSpace(o.Metadata[VideoIdMetadataKey]); id != "" {
		return id
	}
	base := path.Base(o.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}
