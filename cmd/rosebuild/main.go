package main

import "rosebuild/internal/rosebuild"

func main() {
	rosebuild.Main()
}
