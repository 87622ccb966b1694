package fastcollection

import (
	"github.com/sirupsen/logrus"

	"github.com/ajsinha/fastcollection/internal/xruntime"
)

func fnLog(msg string, args ...interface{}) {
	logrus.Infof("@%s: "+msg, append([]interface{}{xruntime.CurFuncName(2)}, args...)...)
}

func fnErrLog(msg string, args ...interface{}) {
	logrus.Errorf("@%s: "+msg, append([]interface{}{xruntime.CurFuncName(2)}, args...)...)
}
