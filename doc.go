// github.com/tve/radios contains drivers for radio chips attached to gpio pins and SPI buses.
// The hardware access goes through small SPI and GPIO interfaces defined in this package so a
// driver can run on top of periph.io or embd unchanged. Each chip driver is in its own directory
// and is stand-alone. Simple commands to test a radio can be found in the cmd directory tree.
package radios
