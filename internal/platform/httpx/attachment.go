package httpx

import (
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
)

// XLSXContentType is the media type of Office Open XML workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func init() {
	ensureMimeType(".xlsx", XLSXContentType)
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("httpx: failed to register MIME type for %s: %v", ext, err)
	}
}

// Attachment sets the headers of a file download named filename.
func Attachment(w http.ResponseWriter, filename string) {
	typ := mime.TypeByExtension(filepath.Ext(filename))
	if typ == "" {
		typ = "application/octet-stream"
	}
	w.Header().Set("Content-Type", typ)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
}
