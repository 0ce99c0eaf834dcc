// Command mediamanager runs the media synchronisation service: one
// watch-folder generator per configured source storage, feeding a
// bounded worker pool that executes the WorkFlows they produce.
package main

func main() {
	Execute()
}
