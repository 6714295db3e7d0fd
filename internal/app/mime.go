package app

import (
	"log"
	"mime"
)

// Minimal OS images ship without a mime.types database, and the static
// file server then labels stylesheets text/plain. Register the types the
// asset directory actually serves.
func init() {
	ensureMimeType(".css", "text/css; charset=utf-8")
	ensureMimeType(".js", "text/javascript; charset=utf-8")
	ensureMimeType(".svg", "image/svg+xml")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: failed to register MIME type for %s: %v", ext, err)
	}
}
