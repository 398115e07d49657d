package awsauth_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAwsauth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AWS Auth Mapping Suite")
}
