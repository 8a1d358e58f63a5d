// Package docs provides generated OpenAPI documentation.
//
// Opusbook API
//
//	@title			Opusbook API
//	@version		1.0
//	@description	Audiobook pipeline API for uploading books and streaming generated audio.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package docs

//go:generate swag init -g ../cmd/opusbook/serve.go -o ./swagger --parseDependency --parseInternal
