package actor

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fsutil"
)

// This file renders the structured result documents of the info, list and
// listAttachments actions.

// FileInfo is one node of an info/list document.
type FileInfo struct {
	XMLName          xml.Name        `xml:"file" json:"-"`
	Name             string          `xml:"name,attr" json:"name"`
	CanonicalName    string          `xml:"canonicalName,attr" json:"canonicalName"`
	Size             int64           `xml:"size,attr" json:"size"`
	ModificationDate string          `xml:"modificationDate,attr" json:"modificationDate"`
	ModificationTime string          `xml:"modificationTime,attr" json:"modificationTime"`
	Attributes       []FileAttribute `xml:"attribute,omitempty" json:"attributes,omitempty"`
}

// FileAttribute carries one backend-specific extra attribute.
type FileAttribute struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:",chardata" json:"value"`
}

// FileList is the document produced by the list action.
type FileList struct {
	XMLName xml.Name   `xml:"directory" json:"-"`
	Folder  string     `xml:"name,attr" json:"folder"`
	Count   int        `xml:"count,attr" json:"count"`
	Files   []FileInfo `xml:"file" json:"files"`
}

// AttachmentInfo is one node of a listAttachments document.
type AttachmentInfo struct {
	XMLName     xml.Name `xml:"attachment" json:"-"`
	Name        string   `xml:"name,attr" json:"name"`
	FileName    string   `xml:"filename,attr,omitempty" json:"filename,omitempty"`
	ContentType string   `xml:"contentType,attr,omitempty" json:"contentType,omitempty"`
	Size        int64    `xml:"size,attr" json:"size"`
}

// AttachmentList is the document produced by the listAttachments action.
type AttachmentList struct {
	XMLName     xml.Name         `xml:"attachments" json:"-"`
	File        string           `xml:"file,attr" json:"file"`
	Count       int              `xml:"count,attr" json:"count"`
	Attachments []AttachmentInfo `xml:"attachment" json:"attachments"`
}

func (a *Actor) fileInfo(ctx context.Context, h filesystem.Handle) (FileInfo, error) {
	info := FileInfo{Name: a.fs.Name(h)}

	canonical, err := a.fs.CanonicalName(h)
	if err != nil {
		return info, err
	}
	info.CanonicalName = canonical

	size, err := a.fs.FileSize(ctx, h)
	if err != nil {
		return info, err
	}
	info.Size = size

	mtime, err := a.fs.ModificationTime(ctx, h)
	if err != nil {
		return info, err
	}
	info.ModificationDate = mtime.Format("2006-01-02")
	info.ModificationTime = mtime.Format("15:04:05")

	props, err := a.fs.AdditionalProperties(ctx, h)
	if err != nil {
		return info, err
	}
	if len(props) > 0 {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			info.Attributes = append(info.Attributes, FileAttribute{
				Name:  k,
				Value: fmt.Sprintf("%v", props[k]),
			})
		}
	}
	return info, nil
}

func (a *Actor) render(doc any) ([]byte, error) {
	if a.cfg.OutputFormat == FormatXML {
		return xml.MarshalIndent(doc, "", "  ")
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (a *Actor) doInfo(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	info, err := a.fileInfo(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	data, err := a.render(info)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	return &Result{Data: data}, nil
}

func (a *Actor) doList(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	folder := a.resolveFolder(p)
	stream, err := a.fs.ListFiles(ctx, folder)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}
	filtered := fsutil.FilterStream(stream, a.fs, a.cfg.Wildcard, a.cfg.ExcludeWildcard)
	handles, err := filesystem.CollectHandles(filtered)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}

	doc := FileList{Folder: folder, Count: len(handles), Files: []FileInfo{}}
	for _, h := range handles {
		info, err := a.fileInfo(ctx, h)
		if err != nil {
			return nil, actionErr(action, a.fs.Name(h), err)
		}
		doc.Files = append(doc.Files, info)
	}
	data, err := a.render(doc)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}
	return &Result{Data: data}, nil
}

func (a *Actor) doListAttachments(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	stream, err := a.afs.ListAttachments(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	defer stream.Close()

	doc := AttachmentList{File: name, Attachments: []AttachmentInfo{}}
	for {
		att, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, actionErr(action, name, err)
		}
		doc.Attachments = append(doc.Attachments, AttachmentInfo{
			Name:        att.Name(),
			FileName:    att.FileName(),
			ContentType: att.ContentType(),
			Size:        att.Size(),
		})
	}
	doc.Count = len(doc.Attachments)
	data, err := a.render(doc)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	return &Result{Data: data}, nil
}
