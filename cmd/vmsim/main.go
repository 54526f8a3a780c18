// Command vmsim runs simulated processes on a demand-paged memory manager.
package main

func main() {
	Execute()
}
