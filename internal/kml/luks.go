package kml

import "github.com/igelfs/go-igfs/internal/types"

// ContainerMode tells how an unwrapped filesystem key opens its partition
// payload.
type ContainerMode int

const (
	// ContainerModeLUKS opens via a LUKS header with the unwrapped key as
	// master key file.
	ContainerModeLUKS ContainerMode = iota

	// ContainerModePlain opens as a headerless aes-xts-plain64 container
	// with key size 512.
	ContainerModePlain
)

// String names the container mode.
func (m ContainerMode) String() string {
	if m == ContainerModeLUKS {
		return "luks"
	}
	return "plain"
}

// DetectContainerMode sniffs the payload prefix: a LUKS header magic selects
// LUKS, anything else is treated as a plain container. Actually mapping the
// container is an external collaborator operation; the library only decides
// the mode.
func DetectContainerMode(payload []byte) ContainerMode {
	if len(payload) >= len(types.LUKSMagic) && string(payload[:len(types.LUKSMagic)]) == types.LUKSMagic {
		return ContainerModeLUKS
	}
	return ContainerModePlain
}
