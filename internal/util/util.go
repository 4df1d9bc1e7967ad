package util

import (
	"crypto/rand"
	"math/big"
	"net"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nats-io/nuid"
	"github.com/pkg/errors"
	hashids "github.com/speps/go-hashids"
)

//
// generate a short useful unique name - hashid in this case
//
func GenerateName() string {

	name := "gpa"

	// generate a random number
	number0, err := rand.Int(rand.Reader, big.NewInt(10000000))
	if err != nil {
		log.Warn("error generating random seed for name: ", err)
		return name
	}

	hd := hashids.NewData()
	hd.Salt = "otf-gpa random name generator 2020"
	hd.MinLength = 5
	h, err := hashids.NewWithData(hd)
	if err != nil {
		log.Warn("error auto-generating name: ", err)
		return name
	}
	e, err := h.EncodeInt64([]int64{number0.Int64()})
	if err != nil {
		log.Warn("error encoding auto-generated name: ", err)
		return name
	}
	name = e

	return name

}

//
// generate a unique id - nuid in this case,
// used for service instances and runs
//
func GenerateID() string {

	return nuid.Next()

}

//
// small utility function embedded in major ops
// to log a performance indicator.
//
func TimeTrack(start time.Time, name string) time.Duration {
	elapsed := time.Since(start)
	log.Infof("%s took %s", name, elapsed.Truncate(time.Millisecond).String())
	return elapsed
}

//
// find an available tcp port
//
func AvailablePort() (int, error) {

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, errors.Wrap(err, "cannot acquire a tcp port")
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil

}
