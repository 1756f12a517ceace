/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Documents to be printed
 */

package ippclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Document is the already rendered document, ready to be sent
// to the printer
type Document struct {
	Name   string    // document-name, "" if none
	Format string    // MIME type, "" for auto-sensing by printer
	Size   int64     // Document size, 0 or -1 if unknown
	Body   io.Reader // Document content
}

// format returns document-format attribute value
func (doc *Document) format() string {
	if doc.Format == "" {
		return DocumentFormatAuto
	}
	return doc.Format
}

// documentSniffSize is how many bytes are used to detect
// document format by content
const documentSniffSize = 512

// StagedDocument is the Document, opened from the local file or
// downloaded into the temporary file. Close must be called to
// release the file; downloaded files are removed on Close
type StagedDocument struct {
	Document
	file *os.File // Underlying file
	temp bool     // File is temporary and must be removed
}

// OpenDocument opens document for printing. The source is either
// http:// or https:// URL, or a local file path (a file:// URL
// is accepted as well).
//
// Downloaded documents are staged into a temporary file in the
// spool directory. Empty documents are rejected with KindUnsupported
func (c *Client) OpenDocument(ctx context.Context,
	source string) (*StagedDocument, error) {

	u, err := url.Parse(source)
	if err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return c.downloadDocument(ctx, u)
		case "file":
			return c.openDocumentFile(u.Path, "")
		default:
			return nil, errorf(KindUnsupported, "open-document", source,
				"%s: unsupported URL scheme", u.Scheme)
		}
	}

	return c.openDocumentFile(source, "")
}

// openDocumentFile opens local file as the document
func (c *Client) openDocumentFile(name, contentType string) (*StagedDocument, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, newError(KindNotFound, "open-document", name, err)
	}

	doc, err := c.stageDocument(file, false, filepath.Base(name), contentType)
	if err != nil {
		file.Close()
		return nil, err
	}

	return doc, nil
}

// downloadDocument downloads document into temporary file
func (c *Client) downloadDocument(ctx context.Context,
	u *url.URL) (doc *StagedDocument, err error) {

	source := u.String()
	opname := "download"

	rq, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, newError(KindUnsupported, opname, source, err)
	}

	// Redirects are followed for downloads, unlike IPP requests
	httpClient := &http.Client{
		Transport: c.transport.httpClient(c.conf.ReadTimeout).Transport,
	}

	session := c.transport.nextSession()
	httpLogRequest(c.log, session, rq)

	rsp, err := httpClient.Do(rq)
	if err != nil {
		httpLogError(c.log, session, err)
		return nil, c.transport.transportError(ctx, opname, source, err)
	}
	defer rsp.Body.Close()

	httpLogResponse(c.log, session, rsp)

	switch {
	case rsp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Op: opname, URI: source,
			HTTPStatus: rsp.StatusCode, Err: errors.New(rsp.Status)}
	case rsp.StatusCode/100 != 2:
		return nil, &Error{Kind: KindTransport, Transport: TransportProtocol,
			Op: opname, URI: source, HTTPStatus: rsp.StatusCode,
			Err: errors.New(rsp.Status)}
	}

	// Stage into the temporary file. The name keeps the
	// extension, so format still may be guessed by it
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}

	dir := c.conf.SpoolDir
	if dir != "" {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return nil, newError(KindTransport, opname, source, err)
		}
	}

	file, err := os.CreateTemp(dir, "ipp-client-"+uuid.NewString()+"-*"+path.Ext(name))
	if err != nil {
		return nil, newError(KindTransport, opname, source, err)
	}

	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()

	_, err = io.Copy(file, rsp.Body)
	if err != nil {
		err = c.transport.transportError(ctx, opname, source, err)
		return nil, err
	}

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, newError(KindTransport, opname, source, err)
	}

	c.log.Debug(' ', "%s: staged as %s", source, file.Name())

	return c.stageDocument(file, true, name, rsp.Header.Get("Content-Type"))
}

// stageDocument wraps opened file into the StagedDocument and
// detects document format
func (c *Client) stageDocument(file *os.File, temp bool,
	name, contentType string) (*StagedDocument, error) {

	stat, err := file.Stat()
	if err != nil {
		return nil, newError(KindNotFound, "open-document", file.Name(), err)
	}

	if stat.Size() == 0 {
		return nil, errorf(KindUnsupported, "open-document", name,
			"empty document")
	}

	// Sniff document content
	head := make([]byte, documentSniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, newError(KindTransport, "open-document", name, err)
	}
	head = head[:n]

	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return nil, newError(KindTransport, "open-document", name, err)
	}

	doc := &StagedDocument{
		Document: Document{
			Name:   name,
			Format: DocumentFormatDetect(contentType, head, name),
			Size:   stat.Size(),
			Body:   file,
		},
		file: file,
		temp: temp,
	}

	return doc, nil
}

// Path returns path of the underlying file
func (doc *StagedDocument) Path() string {
	return doc.file.Name()
}

// Staged tells if document was staged into a temporary file
func (doc *StagedDocument) Staged() bool {
	return doc.temp
}

// Close closes the document and removes it, if it is temporary
func (doc *StagedDocument) Close() error {
	err := doc.file.Close()
	if doc.temp {
		if err2 := os.Remove(doc.file.Name()); err == nil {
			err = err2
		}
	}
	return err
}

// DocumentFormatDetect detects document MIME type, using, in order
// of preference, the HTTP Content-Type, the document content
// and the file name extension. It returns DocumentFormatAuto, if
// format is not recognized
func DocumentFormatDetect(contentType string, head []byte, name string) string {
	if format := documentFormatNormalize(contentType); format != "" {
		return format
	}

	if len(head) > 0 {
		format := documentFormatSniff(head)
		if format != "" {
			return format
		}
	}

	if ext := filepath.Ext(name); ext != "" {
		format := documentFormatNormalize(mime.TypeByExtension(ext))
		if format != "" {
			return format
		}
	}

	return DocumentFormatAuto
}

// documentFormatNormalize strips MIME type parameters. Generic
// application/octet-stream and unparsable types are returned as ""
func documentFormatNormalize(contentType string) string {
	if contentType == "" {
		return ""
	}

	mediatype, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediatype == DocumentFormatAuto {
		return ""
	}

	return mediatype
}

// documentFormatSniff detects document format by its content.
// PDLs not known to http.DetectContentType are recognized here
func documentFormatSniff(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("%!PS")):
		return "application/postscript"
	case bytes.HasPrefix(head, []byte("RaS2")):
		return "image/pwg-raster"
	case bytes.HasPrefix(head, []byte("UNIRAST")):
		return "image/urf"
	case bytes.HasPrefix(head, []byte("\x1b%-12345X")):
		return "application/vnd.hp-pcl"
	}

	return documentFormatNormalize(http.DetectContentType(head))
}

// String returns Document as string, for logging
func (doc *Document) String() string {
	name := doc.Name
	if name == "" {
		name = "(unnamed)"
	}

	if doc.Size < 0 {
		return fmt.Sprintf("%s (%s)", name, doc.format())
	}

	return fmt.Sprintf("%s (%s, %d bytes)", name, doc.format(), doc.Size)
}
