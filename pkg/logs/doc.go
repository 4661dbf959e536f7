/*
Package logs fetches an application's output from the node that ran it.

The node is found through the scheduler's task record. The log file lives at
a path built from Config.PathTemplate, optionally inside a container, and is
read with a single remote command that prints the file size on its first
line followed by the requested bytes:

	18
	line one
	line two

A size of -1 means the file does not exist yet. Only standard output is
parsed; anything the node prints on standard error is ignored.

With tail set, only the bytes after currentBytes are returned and the
result's TotalBytes is the offset for the next call. Follow does this in a
loop until the application completes or fails:

	final, err := svc.Follow(ctx, "c1", "app1", 2*time.Second, os.Stdout)
*/
package logs
