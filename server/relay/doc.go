/*
Package relay runs a shell command and copies its standard output to a writer as it is produced, one chunk at a time.

The process is scoped to the writer: if a write fails, for example because the client on the other end of a socket went away, the process group is killed and reaped.
Reaching the end of the output is the normal way a relay ends, and the exit status is recorded but not otherwise inspected.

Standard error is not relayed, it is sent to the debug logger line by line.
*/
package relay
