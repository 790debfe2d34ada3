package channel

// Run is the shared lifecycle for every transfer-style channel use: open,
// start (exec/PTY/shell as the caller wishes), run the action, then close,
// harvest the exit status, and free, with identical teardown on success and
// on failure, including errors raised inside the caller-supplied action.
//
// The exec runner and the SCP engine both go through here so no path can
// forget a teardown step.
func Run(conn Conn, start, action func(*Channel) error) (status int, err error) {
	ch, err := Open(conn)
	if err != nil {
		return -1, err
	}
	defer func() {
		cerr := ch.Close()
		if err != nil {
			status = -1
			return
		}
		if cerr != nil {
			err = cerr
			status = -1
			return
		}
		status, err = ch.ExitStatus()
	}()

	if err = start(ch); err != nil {
		return
	}
	err = action(ch)
	return
}

// Output runs a single remote command and returns its exit status together
// with the command's full stdout, accumulated with the blocking read loop.
func Output(conn Conn, cmd string) (int, []byte, error) {
	var out []byte
	status, err := Run(conn,
		func(ch *Channel) error { return ch.Exec(cmd) },
		func(ch *Channel) error {
			var rerr error
			out, rerr = ch.ReadAll()
			return rerr
		},
	)
	return status, out, err
}
