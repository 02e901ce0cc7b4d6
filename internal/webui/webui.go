// Package webui embeds the browser playground served at "/".
package webui

import _ "embed"

//go:embed static/index.html
var index string

// Index returns the playground page. It talks to POST /v1/generate with
// streaming enabled.
func Index() string {
	return index
}
