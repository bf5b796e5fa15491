package session

// DownloadCallback receives the result of a symbol artifact download. Every
// callback registered against a Download fires exactly once.
type DownloadCallback func(path string, err error)

// Download is one in-flight transfer of a (build ID, file type) artifact.
// The System dedups Downloads by key, so concurrent requesters share one
// transfer and one fan-out. Servers are tried in registration order; the
// first success wins and a fully exhausted chain fails the download.
type Download struct {
	system *System

	buildID  string
	fileType DownloadFileType

	callbacks []DownloadCallback
	servers   []SymbolServer
	finished  bool
}

func newDownload(sys *System, buildID string, fileType DownloadFileType) *Download {
	return &Download{system: sys, buildID: buildID, fileType: fileType}
}

// BuildID returns the build ID being fetched.
func (d *Download) BuildID() string { return d.buildID }

// FileType returns the artifact kind being fetched.
func (d *Download) FileType() DownloadFileType { return d.fileType }

// addCallback registers another waiter. A finished download accepts no more;
// the System never hands one out after completion.
func (d *Download) addCallback(cb DownloadCallback) {
	if cb != nil {
		d.callbacks = append(d.callbacks, cb)
	}
}

// start kicks off the server fallback chain.
func (d *Download) start(servers []SymbolServer) {
	for _, srv := range servers {
		if srv.State() == SymbolServerReady {
			d.servers = append(d.servers, srv)
		}
	}
	d.tryNext(nil)
}

func (d *Download) tryNext(lastErr error) {
	if d.finished {
		return
	}
	if len(d.servers) == 0 {
		if lastErr == nil {
			lastErr = ErrNoSymbolServer{BuildID: d.buildID, FileType: d.fileType}
		}
		d.finish("", lastErr)
		return
	}
	srv := d.servers[0]
	d.servers = d.servers[1:]
	srv.Fetch(d.buildID, d.fileType, func(path string, err error) {
		if err != nil {
			d.system.log.Debugf("download of %s from %s failed: %v", d.buildID, srv.Name(), err)
			d.tryNext(err)
			return
		}
		d.finish(path, nil)
	})
}

// finish resolves the download exactly once: callbacks fire (posted, in
// registration order) and the System drops its table entry.
func (d *Download) finish(path string, err error) {
	if d.finished {
		return
	}
	d.finished = true
	callbacks := d.callbacks
	d.callbacks = nil
	loop := d.system.session.loop
	for _, cb := range callbacks {
		cb := cb
		loop.Post(func() { cb(path, err) })
	}
	d.system.downloadFinished(d, err == nil)
}
