// Package process supervises a helper program the radio depends on.
//
// Some adapters need a userspace helper before BlueZ can see them, e.g.
// btattach for UART-attached controllers. A Supervisor starts the helper,
// forwards its output to the log and restarts it with exponential backoff
// when it exits unexpectedly.
//
//	sup := process.New(process.Config{
//	    Name:   "btattach",
//	    Binary: "/usr/bin/btattach",
//	    Args:   []string{"-B", "/dev/ttyAMA0", "-P", "bcm", "-S", "921600"},
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
