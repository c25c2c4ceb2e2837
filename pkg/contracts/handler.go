// Package contracts holds the interfaces pkg/app needs from a service.
package contracts

import "github.com/julienschmidt/httprouter"

// Handler mounts a group of endpoints on the API router.
type Handler interface {
	RegisterRoutes(router *httprouter.Router)
}
