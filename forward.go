package main

import (
	"github.com/pebbe/zmq4"
)

// defaultZMQHWM is the send high water mark for the push socket.
// More info: http://api.zeromq.org/4-1:zmq-setsockopt#toc39
const defaultZMQHWM = 4000

// zmqForwarder pushes consumed record payloads to a downstream zeromq
// endpoint. Messages are framed as (stream name, payload).
type zmqForwarder struct {
	socket *zmq4.Socket
	stream string
}

func newZMQForwarder(endpoint string, hwm int, stream string) (*zmqForwarder, error) {
	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return nil, err
	}

	if err = socket.SetSndhwm(hwm); err != nil {
		socket.Close()
		return nil, err
	}

	if err = socket.Connect(endpoint); err != nil {
		socket.Close()
		return nil, err
	}

	return &zmqForwarder{socket: socket, stream: stream}, nil
}

func (f *zmqForwarder) Forward(data []byte) error {
	_, err := f.socket.SendMessage(f.stream, data)
	return err
}

func (f *zmqForwarder) Close() error {
	return f.socket.Close()
}
