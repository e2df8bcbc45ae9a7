package fixtures

import (
	"embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

// Kernels holds the reference device programs under kernels/.
//
//go:embed kernels/*.cl
var Kernels embed.FS
