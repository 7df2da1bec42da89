package main

import (
	_ "github.com/lucasew/dumpkeeper/internal/remote/s3"
	_ "github.com/lucasew/dumpkeeper/internal/remote/ssh"
)

func main() {
	Execute()
}
