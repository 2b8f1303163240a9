package main

import "sgxbuild/internal/sgxbuild"

func main() {
	sgxbuild.Main()
}
