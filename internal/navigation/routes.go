package navigation

// routePaths はルート名とパスの対応表。
var routePaths = map[RouteName]string{
	RouteChat:   "/",
	RouteSignIn: "/signin",
	RouteSignUp: "/signup",
}

// Path はルート名に対応するパスを返す。
// キャッチオールなど固定パスを持たないルートは空文字列を返す。
func Path(route RouteName) string {
	return routePaths[route]
}
