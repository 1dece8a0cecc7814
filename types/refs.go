package types

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ObjectRef locates one object in the object store.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Validate checks that the reference is addressable.
func (r ObjectRef) Validate() error {
	if r.Bucket == "" {
		return errors.New("object ref: bucket is empty")
	}
	if r.Name == "" {
		return errors.New("object ref: name is empty")
	}
	return nil
}

func (r ObjectRef) String() string { return r.Bucket + "/" + r.Name }

// PageRef locates one rendered page image of an invoice.
// PageIndex is 0-based and unique within an invoice.
type PageRef struct {
	Bucket    string `json:"bucket"`
	Name      string `json:"name"`
	PageIndex int    `json:"page_index"`
}

// Validate checks page reference constraints.
func (r PageRef) Validate() error {
	if err := (ObjectRef{Bucket: r.Bucket, Name: r.Name}).Validate(); err != nil {
		return fmt.Errorf("page ref: %w", err)
	}
	if r.PageIndex < 0 {
		return fmt.Errorf("page ref %s: negative page_index %d", r.Name, r.PageIndex)
	}
	return nil
}

// SourceObject is the storage notification payload announcing an upload
// into the landing area. Field names follow the notification wire format.
type SourceObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size,omitempty"`
	TimeCreated string `json:"timeCreated,omitempty"`
}

// Validate checks that the notification addresses a real object.
// Content-type acceptance is the normalizer's concern, not a schema one.
func (s SourceObject) Validate() error {
	if s.Bucket == "" {
		return errors.New("source object: bucket is empty")
	}
	if s.Name == "" {
		return errors.New("source object: name is empty")
	}
	if s.Size != "" {
		if _, err := strconv.ParseInt(s.Size, 10, 64); err != nil {
			return fmt.Errorf("source object %s: size %q is not an integer", s.Name, s.Size)
		}
	}
	if s.TimeCreated != "" {
		if _, err := time.Parse(time.RFC3339, s.TimeCreated); err != nil {
			return fmt.Errorf("source object %s: timeCreated %q is not RFC3339", s.Name, s.TimeCreated)
		}
	}
	return nil
}

// Ref returns the object-store reference of the source object.
func (s SourceObject) Ref() ObjectRef {
	return ObjectRef{Bucket: s.Bucket, Name: s.Name}
}
