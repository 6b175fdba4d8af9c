// Package services holds the error taxonomy and context annotations shared
// by the external-collaborator clients in its subpackages.
package services
